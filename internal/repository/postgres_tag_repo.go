package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// Ensure は (tenant_id, name) のタグを冪等に取得または作成する。
// ON CONFLICT DO NOTHINGの後に再検索するため、並行呼び出しでも
// 同名タグは1行に収束する。
func (r *PostgresTagRepo) Ensure(ctx context.Context, tenantID, name string) (*model.Tag, error) {
	now := time.Now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tags (id, tenant_id, name, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, name) DO NOTHING`,
		uuid.New().String(), tenantID, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure tag: %w", err)
	}

	tag := &model.Tag{}
	err = r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, created_at FROM tags WHERE tenant_id = $1 AND name = $2`,
		tenantID, name,
	).Scan(&tag.ID, &tag.TenantID, &tag.Name, &tag.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find ensured tag: %w", err)
	}

	return tag, nil
}

// Attach はContactにタグを冪等に付与する。
func (r *PostgresTagRepo) Attach(ctx context.Context, contactID, tagID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contact_tags (contact_id, tag_id)
		 VALUES ($1, $2)
		 ON CONFLICT (contact_id, tag_id) DO NOTHING`,
		contactID, tagID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach tag: %w", err)
	}
	return nil
}

// ListByContact はContactに付与されたタグ一覧を返す。
func (r *PostgresTagRepo) ListByContact(ctx context.Context, contactID string) ([]*model.Tag, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.tenant_id, t.name, t.created_at
		 FROM tags t
		 JOIN contact_tags ct ON ct.tag_id = t.id
		 WHERE ct.contact_id = $1
		 ORDER BY t.name`,
		contactID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags by contact: %w", err)
	}
	defer rows.Close()

	var tags []*model.Tag
	for rows.Next() {
		tag := &model.Tag{}
		if err := rows.Scan(&tag.ID, &tag.TenantID, &tag.Name, &tag.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	return tags, nil
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
