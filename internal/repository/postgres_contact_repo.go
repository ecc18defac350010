package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresContactRepo はPostgreSQLを使用したContactリポジトリ。
type PostgresContactRepo struct {
	db *sql.DB
}

// NewPostgresContactRepo はPostgresContactRepoを生成する。
func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

// FindByID は指定IDのContactを取得する。見つからない場合はnilを返す。
func (r *PostgresContactRepo) FindByID(ctx context.Context, id string) (*model.Contact, error) {
	contact := &model.Contact{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, phone, country, created_at, updated_at
		 FROM contacts WHERE id = $1`,
		id,
	).Scan(&contact.ID, &contact.TenantID, &contact.Email, &contact.Name,
		&contact.Phone, &contact.Country, &contact.CreatedAt, &contact.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact by ID: %w", err)
	}

	return contact, nil
}

// FindByEmailAndTenant はメールアドレスとテナントIDでContactを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresContactRepo) FindByEmailAndTenant(ctx context.Context, email, tenantID string) (*model.Contact, error) {
	contact := &model.Contact{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, email, name, phone, country, created_at, updated_at
		 FROM contacts WHERE email = $1 AND tenant_id = $2`,
		email, tenantID,
	).Scan(&contact.ID, &contact.TenantID, &contact.Email, &contact.Name,
		&contact.Phone, &contact.Country, &contact.CreatedAt, &contact.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find contact by email and tenant: %w", err)
	}

	return contact, nil
}

// Create はContactを作成する。
// (email, tenant_id) の重複時はユニーク制約違反のエラーをそのまま返す
// （呼び出し元がIsUniqueViolationで競合を判定する）。
func (r *PostgresContactRepo) Create(ctx context.Context, contact *model.Contact) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (id, tenant_id, email, name, phone, country, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		contact.ID, contact.TenantID, contact.Email, contact.Name,
		contact.Phone, contact.Country, contact.CreatedAt, contact.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

// Update はContactの属性を上書き更新する。
func (r *PostgresContactRepo) Update(ctx context.Context, contact *model.Contact) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts
		 SET name = $2, phone = $3, country = $4, updated_at = $5
		 WHERE id = $1`,
		contact.ID, contact.Name, contact.Phone, contact.Country, contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

// CountByTenant はテナントのContact数を返す。
func (r *PostgresContactRepo) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contacts WHERE tenant_id = $1`,
		tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts by tenant: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ ContactRepository = (*PostgresContactRepo)(nil)
