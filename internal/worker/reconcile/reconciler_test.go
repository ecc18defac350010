package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/fanlink/internal/identity"
	"github.com/hitoshi/fanlink/internal/metrics"
	"github.com/hitoshi/fanlink/internal/model"
	"github.com/hitoshi/fanlink/internal/repository"
	"github.com/hitoshi/fanlink/internal/spotify"
)

// --- モック ---

type mockIntentRepo struct {
	listDueFn       func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error)
	claimFn         func(ctx context.Context, id string, at time.Time) (bool, error)
	markCompletedFn func(ctx context.Context, id string, at time.Time) error
	markFailedFn    func(ctx context.Context, id string, errMsg string, at time.Time) error

	completed []string
	failed    map[string]string
}

func newMockIntentRepo() *mockIntentRepo {
	return &mockIntentRepo{failed: make(map[string]string)}
}

func (m *mockIntentRepo) FindByID(ctx context.Context, id string) (*model.PreSaveIntent, error) {
	return nil, nil
}
func (m *mockIntentRepo) FindByContactReleaseProvider(ctx context.Context, contactID, releaseID string, provider model.Provider) (*model.PreSaveIntent, error) {
	return nil, nil
}
func (m *mockIntentRepo) Create(ctx context.Context, intent *model.PreSaveIntent) error { return nil }
func (m *mockIntentRepo) Rearm(ctx context.Context, id string, at time.Time) error      { return nil }
func (m *mockIntentRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
	return m.listDueFn(ctx, now, limit)
}
func (m *mockIntentRepo) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if m.claimFn != nil {
		return m.claimFn(ctx, id, at)
	}
	return true, nil
}
func (m *mockIntentRepo) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	m.completed = append(m.completed, id)
	if m.markCompletedFn != nil {
		return m.markCompletedFn(ctx, id, at)
	}
	return nil
}
func (m *mockIntentRepo) MarkFailed(ctx context.Context, id string, errMsg string, at time.Time) error {
	m.failed[id] = errMsg
	if m.markFailedFn != nil {
		return m.markFailedFn(ctx, id, errMsg, at)
	}
	return nil
}

type mockTokenResolver struct {
	tokenFn func(ctx context.Context, contactID string, provider model.Provider) (string, error)
	calls   int
}

func (m *mockTokenResolver) ValidAccessToken(ctx context.Context, contactID string, provider model.Provider) (string, error) {
	m.calls++
	return m.tokenFn(ctx, contactID, provider)
}

type mockLibraryClient struct {
	addFn func(ctx context.Context, accessToken string, ref model.ContentRef) error
	calls []model.ContentRef
}

func (m *mockLibraryClient) AddToLibrary(ctx context.Context, accessToken string, ref model.ContentRef) error {
	m.calls = append(m.calls, ref)
	if m.addFn != nil {
		return m.addFn(ctx, accessToken, ref)
	}
	return nil
}

// --- ヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCollector() *metrics.Collector {
	return metrics.NewCollector(prometheus.NewRegistry())
}

func trackLayout(id string) []byte {
	return []byte(fmt.Sprintf(`[{"type":"links","links":[{"platform":"spotify","url":"https://open.spotify.com/track/%s"}]}]`, id))
}

func dueIntent(id, contactID string, layout []byte) repository.DueIntent {
	return repository.DueIntent{
		PreSaveIntent: model.PreSaveIntent{
			ID:        id,
			ContactID: contactID,
			ReleaseID: "release-" + id,
			Provider:  model.ProviderSpotify,
			Status:    model.IntentStatusPending,
		},
		ReleaseDate:   time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ReleaseLayout: layout,
	}
}

func newTestReconciler(repo *mockIntentRepo, tokens TokenResolver, library LibraryClient) *Reconciler {
	return NewReconciler(repo, tokens, library, nil, testCollector(), discardLogger(), 100)
}

// --- テスト ---

// TestRunBatch_HappyPath は1件のIntentの完了までの流れを検証する。
func TestRunBatch_HappyPath(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{dueIntent("i1", "contact-1", trackLayout("abc123"))}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token-1", nil
		},
	}
	library := &mockLibraryClient{}

	r := newTestReconciler(repo, tokens, library)
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.Processed != 1 || result.Succeeded != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want 1 processed, 1 succeeded", result)
	}
	if len(library.calls) != 1 {
		t.Fatalf("library calls = %d, want 1", len(library.calls))
	}
	if library.calls[0] != (model.ContentRef{Kind: model.ContentKindTrack, ID: "abc123"}) {
		t.Errorf("library call ref = %+v, want track abc123", library.calls[0])
	}
	if len(repo.completed) != 1 || repo.completed[0] != "i1" {
		t.Errorf("completed = %v, want [i1]", repo.completed)
	}
}

// TestRunBatch_FailureIsolation は1件の失敗が後続のIntent処理を
// 妨げないことを検証する。
func TestRunBatch_FailureIsolation(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{
			dueIntent("i1", "contact-1", trackLayout("aaa")),
			dueIntent("i2", "contact-2", trackLayout("bbb")), // トークン解決が失敗する
			dueIntent("i3", "contact-3", trackLayout("ccc")),
		}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			if contactID == "contact-2" {
				return "", identity.ErrMissingRefreshToken
			}
			return "token", nil
		},
	}
	library := &mockLibraryClient{}

	r := newTestReconciler(repo, tokens, library)
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.Processed != 3 || result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 3 processed, 2 succeeded, 1 failed", result)
	}
	if len(repo.completed) != 2 {
		t.Errorf("completed = %v, want i1 and i3", repo.completed)
	}
	if msg, ok := repo.failed["i2"]; !ok || !strings.Contains(msg, "リフレッシュトークン") {
		t.Errorf("failed[i2] = %q, want refresh-token failure message", msg)
	}
	// i2のライブラリ呼び出しは行われない
	if len(library.calls) != 2 {
		t.Errorf("library calls = %d, want 2", len(library.calls))
	}
}

// TestRunBatch_MissingStreamingURL はレイアウトにURLがない場合の
// データ品質FAILEDを検証する。
func TestRunBatch_MissingStreamingURL(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{
			dueIntent("i1", "contact-1", []byte(`[{"type":"heading","text":"New Single"}]`)),
		}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token", nil
		},
	}
	library := &mockLibraryClient{}

	r := newTestReconciler(repo, tokens, library)
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if msg := repo.failed["i1"]; !strings.Contains(msg, "missing streaming URL") {
		t.Errorf("failed message = %q, want data-quality marker", msg)
	}
	if len(library.calls) != 0 {
		t.Errorf("library calls = %d, want 0", len(library.calls))
	}
}

// TestRunBatch_UnparseableContentID はURLから識別子を抽出できない場合のFAILEDを検証する。
func TestRunBatch_UnparseableContentID(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		layout := []byte(`[{"type":"links","spotify":"https://open.spotify.com/playlist/xyz"}]`)
		return []repository.DueIntent{dueIntent("i1", "contact-1", layout)}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token", nil
		},
	}

	r := newTestReconciler(repo, tokens, &mockLibraryClient{})
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
}

// TestRunBatch_ProviderErrorCapturesBody は非2xxレスポンスのボディが
// last_errorに保存されることを検証する。
func TestRunBatch_ProviderErrorCapturesBody(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{dueIntent("i1", "contact-1", trackLayout("abc"))}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token", nil
		},
	}
	library := &mockLibraryClient{
		addFn: func(ctx context.Context, accessToken string, ref model.ContentRef) error {
			return &spotify.APIStatusError{StatusCode: 403, Body: "Insufficient client scope"}
		},
	}

	r := newTestReconciler(repo, tokens, library)
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	if msg := repo.failed["i1"]; !strings.Contains(msg, "Insufficient client scope") {
		t.Errorf("failed message = %q, want provider body captured", msg)
	}
}

// TestRunBatch_ClaimLostIntentSkipped は別実行にクレームされたIntentが
// 処理されずスキップされることを検証する。
func TestRunBatch_ClaimLostIntentSkipped(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{
			dueIntent("i1", "contact-1", trackLayout("aaa")),
			dueIntent("i2", "contact-2", trackLayout("bbb")),
		}, nil
	}
	repo.claimFn = func(ctx context.Context, id string, at time.Time) (bool, error) {
		return id != "i1", nil // i1は別実行が先にクレーム済み
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token", nil
		},
	}
	library := &mockLibraryClient{}

	r := newTestReconciler(repo, tokens, library)
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if result.Processed != 1 || result.Succeeded != 1 {
		t.Errorf("result = %+v, want only i2 processed", result)
	}
	if len(result.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(result.Outcomes))
	}
	if result.Outcomes[0].Result != "skipped" {
		t.Errorf("outcome[0] = %q, want skipped", result.Outcomes[0].Result)
	}
	if len(library.calls) != 1 {
		t.Errorf("library calls = %d, want 1", len(library.calls))
	}
}

// TestRunBatch_TokenResolvedPerIntent はトークン解決がIntentごとに
// 行われることを検証する。
func TestRunBatch_TokenResolvedPerIntent(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return []repository.DueIntent{
			dueIntent("i1", "contact-1", trackLayout("aaa")),
			dueIntent("i2", "contact-1", trackLayout("bbb")),
		}, nil
	}
	tokens := &mockTokenResolver{
		tokenFn: func(ctx context.Context, contactID string, provider model.Provider) (string, error) {
			return "token", nil
		},
	}

	r := newTestReconciler(repo, tokens, &mockLibraryClient{})
	if _, err := r.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if tokens.calls != 2 {
		t.Errorf("token resolutions = %d, want 2", tokens.calls)
	}
}

// TestRunBatch_ListDueError は選択クエリの失敗がバッチエラーになることを検証する。
func TestRunBatch_ListDueError(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return nil, errors.New("connection refused")
	}

	r := newTestReconciler(repo, &mockTokenResolver{}, &mockLibraryClient{})
	if _, err := r.RunBatch(context.Background()); err == nil {
		t.Fatal("expected error when the selection query fails")
	}
}

// TestRunBatch_EmptyBatch は照合対象なしの場合の空の結果を検証する。
func TestRunBatch_EmptyBatch(t *testing.T) {
	repo := newMockIntentRepo()
	repo.listDueFn = func(ctx context.Context, now time.Time, limit int) ([]repository.DueIntent, error) {
		return nil, nil
	}

	r := newTestReconciler(repo, &mockTokenResolver{}, &mockLibraryClient{})
	result, err := r.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if result.Processed != 0 || len(result.Outcomes) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
}
