// Package subscription は購読台帳のドメインロジックを提供する。
// ダブルオプトインの確認（PENDING→ACTIVE）を担う。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/repository"
)

// Service は購読台帳のサービス層。
type Service struct {
	subRepo repository.SubscriptionRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(subRepo repository.SubscriptionRepository, logger *slog.Logger) *Service {
	return &Service{
		subRepo: subRepo,
		logger:  logger,
		now:     time.Now,
	}
}

// Confirm は確認リンク訪問による購読のACTIVE化を処理する。
// 冪等であり、すでにACTIVEの購読に対しても成功を返す。
// ACTIVEからPENDINGへ戻る遷移は存在しない。
func (s *Service) Confirm(ctx context.Context, subscriptionID string) (*model.Subscription, error) {
	if subscriptionID == "" {
		return nil, model.NewValidationError("subscription_id")
	}

	sub, err := s.subRepo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubscriptionNotFoundError(subscriptionID)
	}

	if sub.Status == model.SubscriptionStatusActive {
		return sub, nil
	}

	now := s.now()
	if err := s.subRepo.Activate(ctx, sub.ID, now); err != nil {
		return nil, fmt.Errorf("購読の有効化に失敗しました: %w", err)
	}
	sub.Status = model.SubscriptionStatusActive
	sub.UpdatedAt = now

	s.logger.Info("購読を有効化しました",
		slog.String("subscription_id", sub.ID),
		slog.String("contact_id", sub.ContactID),
		slog.String("release_id", sub.ReleaseID),
	)
	return sub, nil
}
