package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresReleaseRepo はPostgreSQLを使用したリリースリポジトリ。
type PostgresReleaseRepo struct {
	db *sql.DB
}

// NewPostgresReleaseRepo はPostgresReleaseRepoを生成する。
func NewPostgresReleaseRepo(db *sql.DB) *PostgresReleaseRepo {
	return &PostgresReleaseRepo{db: db}
}

// FindByID は指定IDのリリースを取得する。見つからない場合はnilを返す。
func (r *PostgresReleaseRepo) FindByID(ctx context.Context, id string) (*model.Release, error) {
	release := &model.Release{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, title, artwork_url, release_date, layout, created_at, updated_at
		 FROM releases WHERE id = $1`,
		id,
	).Scan(&release.ID, &release.TenantID, &release.Title, &release.ArtworkURL,
		&release.ReleaseDate, &release.Layout, &release.CreatedAt, &release.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find release by ID: %w", err)
	}

	return release, nil
}

// UpdateMetadata はタイトルとアートワークURLをベストエフォートで補完する。
// 空文字の引数は既存値を維持する（NULLIF + COALESCEによる部分更新）。
func (r *PostgresReleaseRepo) UpdateMetadata(ctx context.Context, id, title, artworkURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE releases
		 SET title = COALESCE(NULLIF($2, ''), title),
		     artwork_url = COALESCE(NULLIF($3, ''), artwork_url),
		     updated_at = now()
		 WHERE id = $1`,
		id, title, artworkURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update release metadata: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ReleaseRepository = (*PostgresReleaseRepo)(nil)
