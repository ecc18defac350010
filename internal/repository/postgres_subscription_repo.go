package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// FindByID は指定IDの購読を取得する。見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact_id, release_id, status, created_at, updated_at
		 FROM subscriptions WHERE id = $1`,
		id,
	).Scan(&sub.ID, &sub.ContactID, &sub.ReleaseID, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by ID: %w", err)
	}

	return sub, nil
}

// FindByContactAndRelease はContact IDとリリースIDで購読を検索する。
// 見つからない場合はnilを返す。
func (r *PostgresSubscriptionRepo) FindByContactAndRelease(ctx context.Context, contactID, releaseID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact_id, release_id, status, created_at, updated_at
		 FROM subscriptions WHERE contact_id = $1 AND release_id = $2`,
		contactID, releaseID,
	).Scan(&sub.ID, &sub.ContactID, &sub.ReleaseID, &sub.Status, &sub.CreatedAt, &sub.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by contact and release: %w", err)
	}

	return sub, nil
}

// Create は購読を作成する。
// (contact_id, release_id) の重複時はユニーク制約違反のエラーをそのまま返す。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, contact_id, release_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.ContactID, sub.ReleaseID, sub.Status, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// Touch は購読の更新日時のみを進める。statusは変更しない。
// 同一Contactの再キャプチャでACTIVEがPENDINGに戻らないことを保証する。
func (r *PostgresSubscriptionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch subscription: %w", err)
	}
	return nil
}

// Activate は購読をACTIVEに遷移させ、更新日時を進める。
// すでにACTIVEの場合も成功として扱う（冪等）。
func (r *PostgresSubscriptionRepo) Activate(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, model.SubscriptionStatusActive, at,
	)
	if err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
