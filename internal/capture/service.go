// Package capture は公開ページからのファン登録（Capture）のドメインロジックを提供する。
// Contactのアップサート、購読台帳の登録、ソースタグ付与、確認メール送信を担う。
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/repository"
)

// directSourceTag はリリース経由でない直接登録に付与するタグ名。
const directSourceTag = "direct"

// Input は公開Captureエンドポイントの入力を表す。
type Input struct {
	TenantID  string
	Email     string
	Name      string
	Phone     string
	Country   string // フォーム入力の国コード
	ReleaseID string // 空の場合は購読を作成しない

	// GeoCountry はリクエストのジオロケーションヘッダー由来の国コード。
	// Countryが空の場合のフォールバックとして使う。
	GeoCountry string
}

// Result はCaptureの結果を表す。
type Result struct {
	Contact      *model.Contact
	Subscription *model.Subscription
	Created      bool // Contactが新規作成された場合true（既存の更新はfalse）
}

// ConfirmationEmail は確認メールの内容を表す。
type ConfirmationEmail struct {
	To           string
	ContactName  string
	TenantName   string
	ReleaseTitle string
	ConfirmURL   string
}

// EmailSender は確認メールの送信インターフェース。
type EmailSender interface {
	SendConfirmation(ctx context.Context, email ConfirmationEmail) error
}

// Service はCaptureのサービス層。
type Service struct {
	tenantRepo  repository.TenantRepository
	contactRepo repository.ContactRepository
	tagRepo     repository.TagRepository
	subRepo     repository.SubscriptionRepository
	releaseRepo repository.ReleaseRepository
	sender      EmailSender
	baseURL     string
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	tenantRepo repository.TenantRepository,
	contactRepo repository.ContactRepository,
	tagRepo repository.TagRepository,
	subRepo repository.SubscriptionRepository,
	releaseRepo repository.ReleaseRepository,
	sender EmailSender,
	baseURL string,
	logger *slog.Logger,
) *Service {
	return &Service{
		tenantRepo:  tenantRepo,
		contactRepo: contactRepo,
		tagRepo:     tagRepo,
		subRepo:     subRepo,
		releaseRepo: releaseRepo,
		sender:      sender,
		baseURL:     baseURL,
		logger:      logger,
		now:         time.Now,
	}
}

// Capture はファン登録を処理する。
// Contactは (email, tenant_id) でアップサートされ、二重登録は重複ではなく
// 属性の追記・更新として扱われる。ReleaseIDが指定された場合はPENDINGの
// 購読を作成し、確認メールをベストエフォートで送信する。
func (s *Service) Capture(ctx context.Context, input Input) (*Result, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, model.NewValidationError("email")
	}
	if input.TenantID == "" {
		return nil, model.NewValidationError("tenant_id")
	}

	tenant, err := s.tenantRepo.FindByID(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("テナントの取得に失敗しました: %w", err)
	}
	if tenant == nil {
		return nil, model.NewValidationError("tenant_id")
	}

	var release *model.Release
	if input.ReleaseID != "" {
		release, err = s.releaseRepo.FindByID(ctx, input.ReleaseID)
		if err != nil {
			return nil, fmt.Errorf("リリースの取得に失敗しました: %w", err)
		}
		if release == nil {
			return nil, model.NewReleaseNotFoundError(input.ReleaseID)
		}
		if release.TenantID != tenant.ID {
			return nil, model.NewReleaseNotFoundError(input.ReleaseID)
		}
	}

	contact, created, err := s.upsertContact(ctx, tenant, email, input)
	if err != nil {
		return nil, err
	}

	result := &Result{Contact: contact, Created: created}

	if release != nil {
		sub, err := s.upsertSubscription(ctx, contact, release)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub

		// 確認メールはベストエフォート。失敗してもCapture自体は成功させる。
		if sub.Status == model.SubscriptionStatusPending {
			s.sendConfirmation(ctx, tenant, contact, release, sub)
		}
	}

	s.attachSourceTag(ctx, tenant, contact, release)

	s.logger.Info("ファンを登録しました",
		slog.String("tenant_id", tenant.ID),
		slog.String("contact_id", contact.ID),
		slog.Bool("created", created),
		slog.Bool("subscribed", result.Subscription != nil),
	)
	return result, nil
}

// upsertContact はContactを (email, tenant_id) でアップサートする。
// 挿入が一意制約違反で競合した場合は再検索して更新に切り替える。
func (s *Service) upsertContact(ctx context.Context, tenant *model.Tenant, email string, input Input) (*model.Contact, bool, error) {
	existing, err := s.contactRepo.FindByEmailAndTenant(ctx, email, tenant.ID)
	if err != nil {
		return nil, false, fmt.Errorf("Contactの検索に失敗しました: %w", err)
	}
	if existing != nil {
		if err := s.mergeContact(ctx, existing, input); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	// 新規作成前にプラン上限を確認
	count, err := s.contactRepo.CountByTenant(ctx, tenant.ID)
	if err != nil {
		return nil, false, fmt.Errorf("Contact数の取得に失敗しました: %w", err)
	}
	limits := model.LimitsFor(tenant.Plan)
	if count >= limits.MaxContacts {
		return nil, false, model.NewContactLimitError(limits.MaxContacts)
	}

	now := s.now()
	contact := &model.Contact{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Email:     email,
		Name:      strings.TrimSpace(input.Name),
		Phone:     strings.TrimSpace(input.Phone),
		Country:   resolveCountry(input),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.contactRepo.Create(ctx, contact); err != nil {
		if repository.IsUniqueViolation(err) {
			// 並行Captureとの競合。制約が真実の源なので、勝った行を更新する。
			existing, ferr := s.contactRepo.FindByEmailAndTenant(ctx, email, tenant.ID)
			if ferr != nil {
				return nil, false, fmt.Errorf("競合したContactの再検索に失敗しました: %w", ferr)
			}
			if existing == nil {
				return nil, false, fmt.Errorf("競合したContactが見つかりません: %w", err)
			}
			if merr := s.mergeContact(ctx, existing, input); merr != nil {
				return nil, false, merr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("Contactの作成に失敗しました: %w", err)
	}
	return contact, true, nil
}

// mergeContact は非空の入力フィールドで既存Contactを更新する。
// 空の入力で既存値を消すことはない。
func (s *Service) mergeContact(ctx context.Context, contact *model.Contact, input Input) error {
	changed := false
	if name := strings.TrimSpace(input.Name); name != "" && name != contact.Name {
		contact.Name = name
		changed = true
	}
	if phone := strings.TrimSpace(input.Phone); phone != "" && phone != contact.Phone {
		contact.Phone = phone
		changed = true
	}
	if country := resolveCountry(input); country != "" && country != contact.Country {
		contact.Country = country
		changed = true
	}
	if !changed {
		return nil
	}

	contact.UpdatedAt = s.now()
	if err := s.contactRepo.Update(ctx, contact); err != nil {
		return fmt.Errorf("Contactの更新に失敗しました: %w", err)
	}
	return nil
}

// upsertSubscription は (contact_id, release_id) の購読を冪等に登録する。
// 既存の購読はstatusを変えずに更新日時のみ進める（ACTIVEはPENDINGに戻らない）。
func (s *Service) upsertSubscription(ctx context.Context, contact *model.Contact, release *model.Release) (*model.Subscription, error) {
	existing, err := s.subRepo.FindByContactAndRelease(ctx, contact.ID, release.ID)
	if err != nil {
		return nil, fmt.Errorf("購読の検索に失敗しました: %w", err)
	}
	if existing != nil {
		if err := s.subRepo.Touch(ctx, existing.ID, s.now()); err != nil {
			return nil, fmt.Errorf("購読の更新に失敗しました: %w", err)
		}
		return existing, nil
	}

	now := s.now()
	sub := &model.Subscription{
		ID:        uuid.NewString(),
		ContactID: contact.ID,
		ReleaseID: release.ID,
		Status:    model.SubscriptionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, ferr := s.subRepo.FindByContactAndRelease(ctx, contact.ID, release.ID)
			if ferr != nil {
				return nil, fmt.Errorf("競合した購読の再検索に失敗しました: %w", ferr)
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return sub, nil
}

// attachSourceTag は登録経路を示すタグをベストエフォートで付与する。
func (s *Service) attachSourceTag(ctx context.Context, tenant *model.Tenant, contact *model.Contact, release *model.Release) {
	name := directSourceTag
	if release != nil {
		name = release.Title
	}
	if name == "" {
		return
	}

	tag, err := s.tagRepo.Ensure(ctx, tenant.ID, name)
	if err != nil {
		s.logger.Warn("タグの作成に失敗しました",
			slog.String("tenant_id", tenant.ID),
			slog.String("tag", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.tagRepo.Attach(ctx, contact.ID, tag.ID); err != nil {
		s.logger.Warn("タグの付与に失敗しました",
			slog.String("contact_id", contact.ID),
			slog.String("tag_id", tag.ID),
			slog.String("error", err.Error()),
		)
	}
}

// sendConfirmation はダブルオプトインの確認メールを送信する。
// 送信失敗はログに記録するのみで、Captureの結果には影響しない。
func (s *Service) sendConfirmation(ctx context.Context, tenant *model.Tenant, contact *model.Contact, release *model.Release, sub *model.Subscription) {
	email := ConfirmationEmail{
		To:           contact.Email,
		ContactName:  contact.Name,
		TenantName:   tenant.Name,
		ReleaseTitle: release.Title,
		ConfirmURL:   fmt.Sprintf("%s/confirm/%s", s.baseURL, sub.ID),
	}
	if err := s.sender.SendConfirmation(ctx, email); err != nil {
		s.logger.Error("確認メールの送信に失敗しました",
			slog.String("subscription_id", sub.ID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化する。
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("empty email")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("invalid email: %w", err)
	}
	return addr.Address, nil
}

// resolveCountry はフォーム入力を優先し、ジオヘッダーにフォールバックする。
func resolveCountry(input Input) string {
	country := strings.ToUpper(strings.TrimSpace(input.Country))
	if country == "" {
		country = strings.ToUpper(strings.TrimSpace(input.GeoCountry))
	}
	if len(country) != 2 {
		return ""
	}
	return country
}
