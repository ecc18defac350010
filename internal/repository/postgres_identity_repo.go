package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したExternal Identityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByContactAndProvider はContact IDとプロバイダーでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByContactAndProvider(ctx context.Context, contactID string, provider model.Provider) (*model.ExternalIdentity, error) {
	identity := &model.ExternalIdentity{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contact_id, provider, provider_account_id, access_token, refresh_token,
		        expires_at, scope, token_type, created_at, updated_at
		 FROM external_identities
		 WHERE contact_id = $1 AND provider = $2`,
		contactID, provider,
	).Scan(&identity.ID, &identity.ContactID, &identity.Provider, &identity.ProviderAccountID,
		&identity.AccessToken, &identity.RefreshToken, &identity.ExpiresAt,
		&identity.Scope, &identity.TokenType, &identity.CreatedAt, &identity.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find external identity: %w", err)
	}

	return identity, nil
}

// Upsert は (contact_id, provider) の競合時に全フィールドを上書きする。
// ファンが外部でアクセスを取り消した後に再接続するケースがあるため、
// 再認可は保存済み資格情報の丸ごと差し替えとして扱う。
func (r *PostgresIdentityRepo) Upsert(ctx context.Context, identity *model.ExternalIdentity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO external_identities
		       (id, contact_id, provider, provider_account_id, access_token, refresh_token,
		        expires_at, scope, token_type, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (contact_id, provider) DO UPDATE SET
		       provider_account_id = EXCLUDED.provider_account_id,
		       access_token = EXCLUDED.access_token,
		       refresh_token = EXCLUDED.refresh_token,
		       expires_at = EXCLUDED.expires_at,
		       scope = EXCLUDED.scope,
		       token_type = EXCLUDED.token_type,
		       updated_at = EXCLUDED.updated_at`,
		identity.ID, identity.ContactID, identity.Provider, identity.ProviderAccountID,
		identity.AccessToken, identity.RefreshToken, identity.ExpiresAt,
		identity.Scope, identity.TokenType, identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert external identity: %w", err)
	}
	return nil
}

// UpdateTokens はアクセストークン・リフレッシュトークン・有効期限を更新する。
// リフレッシュトークンの維持判断（プロバイダーが新しいものを返さなかった場合）は
// 呼び出し元のidentityサービスが行い、ここでは渡された値をそのまま保存する。
func (r *PostgresIdentityRepo) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE external_identities
		 SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = now()
		 WHERE id = $1`,
		id, accessToken, refreshToken, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	return nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
