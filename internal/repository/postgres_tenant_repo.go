package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresTenantRepo はPostgreSQLを使用したテナントリポジトリ。
type PostgresTenantRepo struct {
	db *sql.DB
}

// NewPostgresTenantRepo はPostgresTenantRepoを生成する。
func NewPostgresTenantRepo(db *sql.DB) *PostgresTenantRepo {
	return &PostgresTenantRepo{db: db}
}

// FindByID は指定IDのテナントを取得する。見つからない場合はnilを返す。
func (r *PostgresTenantRepo) FindByID(ctx context.Context, id string) (*model.Tenant, error) {
	tenant := &model.Tenant{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, plan, created_at FROM tenants WHERE id = $1`,
		id,
	).Scan(&tenant.ID, &tenant.Name, &tenant.Plan, &tenant.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by ID: %w", err)
	}

	return tenant, nil
}

// compile-time interface check
var _ TenantRepository = (*PostgresTenantRepo)(nil)
