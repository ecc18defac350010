// Package presave はPre-Save Intentのライフサイクル管理を提供する。
// OAuthコールバック時の作成・再アーム、状態照会、明示的な再アーム操作を担う。
package presave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/repository"
)

// Status はPre-Save Intentの照会結果を表す。
type Status struct {
	Exists    bool
	IntentID  string
	Status    model.IntentStatus
	LastError string
}

// Service はPre-Save Intentのサービス層。
type Service struct {
	intentRepo  repository.IntentRepository
	contactRepo repository.ContactRepository
	releaseRepo repository.ReleaseRepository
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	intentRepo repository.IntentRepository,
	contactRepo repository.ContactRepository,
	releaseRepo repository.ReleaseRepository,
	logger *slog.Logger,
) *Service {
	return &Service{
		intentRepo:  intentRepo,
		contactRepo: contactRepo,
		releaseRepo: releaseRepo,
		logger:      logger,
		now:         time.Now,
	}
}

// Arm はOAuthコールバック成功時にIntentをPENDINGで用意する。
// 既存のIntentがある場合は状態に関わらずPENDINGへ巻き戻し、last_errorをクリアする。
// ファンの再認可は「もう一度試したい」という意思表示として扱う。
func (s *Service) Arm(ctx context.Context, contactID, releaseID string, provider model.Provider) (*model.PreSaveIntent, error) {
	if !provider.IsValid() {
		return nil, model.NewInvalidProviderError(string(provider))
	}

	contact, err := s.contactRepo.FindByID(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("Contactの取得に失敗しました: %w", err)
	}
	if contact == nil {
		return nil, model.NewContactNotFoundError(contactID)
	}

	release, err := s.releaseRepo.FindByID(ctx, releaseID)
	if err != nil {
		return nil, fmt.Errorf("リリースの取得に失敗しました: %w", err)
	}
	if release == nil {
		return nil, model.NewReleaseNotFoundError(releaseID)
	}

	existing, err := s.intentRepo.FindByContactReleaseProvider(ctx, contactID, releaseID, provider)
	if err != nil {
		return nil, fmt.Errorf("Intentの検索に失敗しました: %w", err)
	}

	now := s.now()
	if existing != nil {
		if existing.Status != model.IntentStatusPending {
			if err := s.intentRepo.Rearm(ctx, existing.ID, now); err != nil {
				return nil, fmt.Errorf("Intentの再アームに失敗しました: %w", err)
			}
		}
		existing.Status = model.IntentStatusPending
		existing.LastError = ""
		existing.UpdatedAt = now
		return existing, nil
	}

	intent := &model.PreSaveIntent{
		ID:        uuid.NewString(),
		ContactID: contactID,
		ReleaseID: releaseID,
		Provider:  provider,
		Status:    model.IntentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.intentRepo.Create(ctx, intent); err != nil {
		if repository.IsUniqueViolation(err) {
			// 並行するコールバックとの競合。既存行をPENDINGに揃えて返す。
			winner, ferr := s.intentRepo.FindByContactReleaseProvider(ctx, contactID, releaseID, provider)
			if ferr != nil {
				return nil, fmt.Errorf("競合したIntentの再検索に失敗しました: %w", ferr)
			}
			if winner != nil {
				if winner.Status != model.IntentStatusPending {
					if rerr := s.intentRepo.Rearm(ctx, winner.ID, now); rerr != nil {
						return nil, fmt.Errorf("Intentの再アームに失敗しました: %w", rerr)
					}
					winner.Status = model.IntentStatusPending
					winner.LastError = ""
				}
				return winner, nil
			}
		}
		return nil, fmt.Errorf("Intentの作成に失敗しました: %w", err)
	}

	s.logger.Info("Pre-Save Intentを作成しました",
		slog.String("intent_id", intent.ID),
		slog.String("contact_id", contactID),
		slog.String("release_id", releaseID),
		slog.String("provider", string(provider)),
	)
	return intent, nil
}

// StatusFor は (contact, release, provider) のIntent状態を照会する。
// 未作成の場合はExists=falseを返し、エラーにはしない。
func (s *Service) StatusFor(ctx context.Context, contactID, releaseID string, provider model.Provider) (*Status, error) {
	if !provider.IsValid() {
		return nil, model.NewInvalidProviderError(string(provider))
	}
	if contactID == "" {
		return nil, model.NewValidationError("contact_id")
	}
	if releaseID == "" {
		return nil, model.NewValidationError("release_id")
	}

	intent, err := s.intentRepo.FindByContactReleaseProvider(ctx, contactID, releaseID, provider)
	if err != nil {
		return nil, fmt.Errorf("Intentの検索に失敗しました: %w", err)
	}
	if intent == nil {
		return &Status{Exists: false}, nil
	}

	return &Status{
		Exists:    true,
		IntentID:  intent.ID,
		Status:    intent.Status,
		LastError: intent.LastError,
	}, nil
}

// Rearm はFAILEDの終端状態からIntentをPENDINGに巻き戻す。
// 自動リトライは存在しないため、これが再照合の唯一の経路となる。
func (s *Service) Rearm(ctx context.Context, intentID string) (*model.PreSaveIntent, error) {
	if intentID == "" {
		return nil, model.NewValidationError("intent_id")
	}

	intent, err := s.intentRepo.FindByID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("Intentの取得に失敗しました: %w", err)
	}
	if intent == nil {
		return nil, model.NewIntentNotFoundError(intentID)
	}

	now := s.now()
	if intent.Status != model.IntentStatusPending {
		if err := s.intentRepo.Rearm(ctx, intent.ID, now); err != nil {
			return nil, fmt.Errorf("Intentの再アームに失敗しました: %w", err)
		}
		s.logger.Info("Pre-Save Intentを再アームしました",
			slog.String("intent_id", intent.ID),
			slog.String("previous_status", string(intent.Status)),
		)
	}
	intent.Status = model.IntentStatusPending
	intent.LastError = ""
	intent.UpdatedAt = now
	return intent, nil
}
