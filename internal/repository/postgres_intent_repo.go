package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresIntentRepo はPostgreSQLを使用したPre-Save Intentリポジトリ。
type PostgresIntentRepo struct {
	db *sql.DB
}

// NewPostgresIntentRepo はPostgresIntentRepoを生成する。
func NewPostgresIntentRepo(db *sql.DB) *PostgresIntentRepo {
	return &PostgresIntentRepo{db: db}
}

// FindByID は指定IDのIntentを取得する。見つからない場合はnilを返す。
func (r *PostgresIntentRepo) FindByID(ctx context.Context, id string) (*model.PreSaveIntent, error) {
	intent := &model.PreSaveIntent{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact_id, release_id, provider, status, last_error, created_at, updated_at
		 FROM presave_intents WHERE id = $1`,
		id,
	).Scan(&intent.ID, &intent.ContactID, &intent.ReleaseID, &intent.Provider,
		&intent.Status, &intent.LastError, &intent.CreatedAt, &intent.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find intent by ID: %w", err)
	}

	return intent, nil
}

// FindByContactReleaseProvider は (contact_id, release_id, provider) でIntentを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIntentRepo) FindByContactReleaseProvider(ctx context.Context, contactID, releaseID string, provider model.Provider) (*model.PreSaveIntent, error) {
	intent := &model.PreSaveIntent{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact_id, release_id, provider, status, last_error, created_at, updated_at
		 FROM presave_intents
		 WHERE contact_id = $1 AND release_id = $2 AND provider = $3`,
		contactID, releaseID, provider,
	).Scan(&intent.ID, &intent.ContactID, &intent.ReleaseID, &intent.Provider,
		&intent.Status, &intent.LastError, &intent.CreatedAt, &intent.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find intent: %w", err)
	}

	return intent, nil
}

// Create はIntentを作成する。
func (r *PostgresIntentRepo) Create(ctx context.Context, intent *model.PreSaveIntent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO presave_intents (id, contact_id, release_id, provider, status, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		intent.ID, intent.ContactID, intent.ReleaseID, intent.Provider,
		intent.Status, intent.LastError, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

// Rearm はIntentをPENDINGに巻き戻し、last_errorをクリアする。
func (r *PostgresIntentRepo) Rearm(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE presave_intents
		 SET status = $2, last_error = '', updated_at = $3
		 WHERE id = $1`,
		id, model.IntentStatusPending, at,
	)
	if err != nil {
		return fmt.Errorf("failed to rearm intent: %w", err)
	}
	return nil
}

// ListDue はリリース日が経過したPENDINGのIntentをリリース情報付きで取得する。
// 照合の選択条件: status = 'pending' かつ release_date <= now。
func (r *PostgresIntentRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]DueIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.contact_id, i.release_id, i.provider, i.status, i.last_error,
		        i.created_at, i.updated_at, r.title, r.release_date, r.layout
		 FROM presave_intents i
		 JOIN releases r ON r.id = i.release_id
		 WHERE i.status = $1 AND r.release_date <= $2
		 ORDER BY r.release_date, i.created_at
		 LIMIT $3`,
		model.IntentStatusPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due intents: %w", err)
	}
	defer rows.Close()

	var due []DueIntent
	for rows.Next() {
		var d DueIntent
		if err := rows.Scan(&d.ID, &d.ContactID, &d.ReleaseID, &d.Provider, &d.Status,
			&d.LastError, &d.CreatedAt, &d.UpdatedAt,
			&d.ReleaseTitle, &d.ReleaseDate, &d.ReleaseLayout); err != nil {
			return nil, fmt.Errorf("failed to scan due intent: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due intents: %w", err)
	}

	return due, nil
}

// Claim は status='pending' の場合のみ status='processing' へ遷移させる。
// 更新行数で取得成否を判定するため、並行する照合実行が同じIntentを
// 二重処理することはない。
func (r *PostgresIntentRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE presave_intents
		 SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.IntentStatusProcessing, at, model.IntentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim intent: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// MarkCompleted はIntentをCOMPLETEDに終端化し、last_errorをクリアする。
func (r *PostgresIntentRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE presave_intents
		 SET status = $2, last_error = '', updated_at = $3
		 WHERE id = $1`,
		id, model.IntentStatusCompleted, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark intent completed: %w", err)
	}
	return nil
}

// MarkFailed はIntentをFAILEDに終端化し、エラーメッセージを記録する。
func (r *PostgresIntentRepo) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE presave_intents
		 SET status = $2, last_error = $3, updated_at = $4
		 WHERE id = $1`,
		id, model.IntentStatusFailed, errMsg, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark intent failed: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IntentRepository = (*PostgresIntentRepo)(nil)
