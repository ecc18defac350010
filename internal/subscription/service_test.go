package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/fanlink/internal/model"
)

// --- モック ---

type mockSubRepo struct {
	findByIDFn func(ctx context.Context, id string) (*model.Subscription, error)
	activateFn func(ctx context.Context, id string, at time.Time) error
}

func (m *mockSubRepo) FindByID(ctx context.Context, id string) (*model.Subscription, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockSubRepo) FindByContactAndRelease(ctx context.Context, contactID, releaseID string) (*model.Subscription, error) {
	return nil, nil
}
func (m *mockSubRepo) Create(ctx context.Context, sub *model.Subscription) error {
	return nil
}
func (m *mockSubRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (m *mockSubRepo) Activate(ctx context.Context, id string, at time.Time) error {
	if m.activateFn != nil {
		return m.activateFn(ctx, id, at)
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- テスト ---

// TestConfirm_PendingBecomesActive はPENDING購読の有効化を検証する。
func TestConfirm_PendingBecomesActive(t *testing.T) {
	activated := ""
	repo := &mockSubRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return &model.Subscription{ID: id, ContactID: "contact-1", ReleaseID: "release-1", Status: model.SubscriptionStatusPending}, nil
		},
		activateFn: func(ctx context.Context, id string, at time.Time) error {
			activated = id
			return nil
		},
	}

	svc := NewService(repo, discardLogger())
	sub, err := svc.Confirm(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if activated != "sub-1" {
		t.Errorf("activated = %q, want sub-1", activated)
	}
	if sub.Status != model.SubscriptionStatusActive {
		t.Errorf("status = %q, want active", sub.Status)
	}
}

// TestConfirm_AlreadyActiveIsIdempotent は確認リンクの再訪問が冪等であることを検証する。
func TestConfirm_AlreadyActiveIsIdempotent(t *testing.T) {
	repo := &mockSubRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return &model.Subscription{ID: id, Status: model.SubscriptionStatusActive}, nil
		},
		activateFn: func(ctx context.Context, id string, at time.Time) error {
			t.Error("Activate should not be called for an already-active subscription")
			return nil
		},
	}

	svc := NewService(repo, discardLogger())
	sub, err := svc.Confirm(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if sub.Status != model.SubscriptionStatusActive {
		t.Errorf("status = %q, want active", sub.Status)
	}
}

// TestConfirm_NotFound は未知の購読IDがNOT_FOUNDになることを検証する。
func TestConfirm_NotFound(t *testing.T) {
	repo := &mockSubRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Subscription, error) {
			return nil, nil
		},
	}

	svc := NewService(repo, discardLogger())
	_, err := svc.Confirm(context.Background(), "unknown")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSubscriptionNotFound {
		t.Fatalf("err = %v, want SUBSCRIPTION_NOT_FOUND", err)
	}
}

// TestConfirm_EmptyID は空IDがバリデーションエラーになることを検証する。
func TestConfirm_EmptyID(t *testing.T) {
	svc := NewService(&mockSubRepo{}, discardLogger())
	_, err := svc.Confirm(context.Background(), "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}
