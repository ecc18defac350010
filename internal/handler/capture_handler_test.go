package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/fanlink/internal/capture"
	"github.com/hitoshi/fanlink/internal/model"
)

// --- モック定義 ---

// mockCaptureService はCaptureServiceInterfaceのモック実装。
type mockCaptureService struct {
	captureFn func(ctx context.Context, input capture.Input) (*capture.Result, error)
}

func (m *mockCaptureService) Capture(ctx context.Context, input capture.Input) (*capture.Result, error) {
	if m.captureFn != nil {
		return m.captureFn(ctx, input)
	}
	return &capture.Result{Contact: &model.Contact{ID: "contact-1"}}, nil
}

// mockMetrics はRouterMetricsRecorderのモック実装。
type mockMetrics struct {
	captureCreated []bool
	confirmations  int
}

func (m *mockMetrics) RecordCapture(created bool) {
	m.captureCreated = append(m.captureCreated, created)
}

func (m *mockMetrics) RecordConfirmation() {
	m.confirmations++
}

func captureBody(t *testing.T, req captureRequest) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}
	return &buf
}

// --- POST /capture テスト ---

func TestCaptureHandler_Capture_Created(t *testing.T) {
	svc := &mockCaptureService{
		captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
			if input.TenantID != "tenant-1" {
				t.Errorf("TenantID = %q, want tenant-1", input.TenantID)
			}
			if input.Email != "fan@example.com" {
				t.Errorf("Email = %q, want fan@example.com", input.Email)
			}
			return &capture.Result{
				Contact: &model.Contact{ID: "contact-1"},
				Subscription: &model.Subscription{
					ID:     "sub-1",
					Status: model.SubscriptionStatusPending,
				},
				Created: true,
			}, nil
		},
	}
	metrics := &mockMetrics{}
	h := NewCaptureHandler(svc, metrics)

	body := captureBody(t, captureRequest{
		TenantID:  "tenant-1",
		Email:     "fan@example.com",
		ReleaseID: "release-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["contact_id"] != "contact-1" {
		t.Errorf("contact_id = %v, want contact-1", resp["contact_id"])
	}
	if resp["subscription_id"] != "sub-1" {
		t.Errorf("subscription_id = %v, want sub-1", resp["subscription_id"])
	}
	if resp["subscription_status"] != "pending" {
		t.Errorf("subscription_status = %v, want pending", resp["subscription_status"])
	}

	if len(metrics.captureCreated) != 1 || !metrics.captureCreated[0] {
		t.Errorf("RecordCapture calls = %v, want [true]", metrics.captureCreated)
	}
}

func TestCaptureHandler_Capture_ExistingContactReturns200(t *testing.T) {
	svc := &mockCaptureService{
		captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
			return &capture.Result{
				Contact: &model.Contact{ID: "contact-1"},
				Created: false,
			}, nil
		},
	}
	metrics := &mockMetrics{}
	h := NewCaptureHandler(svc, metrics)

	body := captureBody(t, captureRequest{TenantID: "tenant-1", Email: "fan@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(metrics.captureCreated) != 1 || metrics.captureCreated[0] {
		t.Errorf("RecordCapture calls = %v, want [false]", metrics.captureCreated)
	}
}

func TestCaptureHandler_Capture_GeoHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		wantGeo string
	}{
		{"Cloudflareヘッダー", map[string]string{"CF-IPCountry": "JP"}, "JP"},
		{"AppEngineヘッダー", map[string]string{"X-AppEngine-Country": "US"}, "US"},
		{"Cloudflare優先", map[string]string{"CF-IPCountry": "JP", "X-AppEngine-Country": "US"}, "JP"},
		{"ヘッダーなし", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotGeo string
			svc := &mockCaptureService{
				captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
					gotGeo = input.GeoCountry
					return &capture.Result{Contact: &model.Contact{ID: "contact-1"}}, nil
				},
			}
			h := NewCaptureHandler(svc, &mockMetrics{})

			body := captureBody(t, captureRequest{TenantID: "tenant-1", Email: "fan@example.com"})
			req := httptest.NewRequest(http.MethodPost, "/capture", body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			h.Capture(w, req)

			if gotGeo != tt.wantGeo {
				t.Errorf("GeoCountry = %q, want %q", gotGeo, tt.wantGeo)
			}
		})
	}
}

func TestCaptureHandler_Capture_InvalidJSON(t *testing.T) {
	h := NewCaptureHandler(&mockCaptureService{}, &mockMetrics{})

	req := httptest.NewRequest(http.MethodPost, "/capture", bytes.NewBufferString("{invalid"))
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCaptureHandler_Capture_ValidationError(t *testing.T) {
	svc := &mockCaptureService{
		captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
			return nil, model.NewValidationError("email")
		},
	}
	metrics := &mockMetrics{}
	h := NewCaptureHandler(svc, metrics)

	body := captureBody(t, captureRequest{TenantID: "tenant-1", Email: "bad"})
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["code"] != model.ErrCodeValidation {
		t.Errorf("code = %v, want VALIDATION_ERROR", resp["code"])
	}

	if len(metrics.captureCreated) != 0 {
		t.Error("metrics should not be recorded on failure")
	}
}

func TestCaptureHandler_Capture_ContactLimit(t *testing.T) {
	svc := &mockCaptureService{
		captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
			return nil, model.NewContactLimitError(500)
		},
	}
	h := NewCaptureHandler(svc, &mockMetrics{})

	body := captureBody(t, captureRequest{TenantID: "tenant-1", Email: "fan@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCaptureHandler_Capture_InternalError(t *testing.T) {
	svc := &mockCaptureService{
		captureFn: func(ctx context.Context, input capture.Input) (*capture.Result, error) {
			return nil, errors.New("db connection lost")
		},
	}
	h := NewCaptureHandler(svc, &mockMetrics{})

	body := captureBody(t, captureRequest{TenantID: "tenant-1", Email: "fan@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/capture", body)
	w := httptest.NewRecorder()

	h.Capture(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %v, want INTERNAL_ERROR", resp["code"])
	}
}
