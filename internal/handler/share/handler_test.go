package share

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/global-compliance/backend/internal/share"
)

func setupRouter(now *time.Time) *chi.Mux {
	codec := share.NewCodec()
	codec.Now = func() time.Time { return *now }

	r := chi.NewRouter()
	New(codec, "https://compliance.example.com/app?tab=1").RegisterRoutes(r)
	return r
}

func createShare(t *testing.T, r http.Handler, body string) map[string]any {
	t.Helper()
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader([]byte(body))))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestShareRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := setupRouter(&now)

	created := createShare(t, r, `{"report":{"productName":"Kimono"},"image":"data:image/png;base64,AAAA"}`)
	token, _ := created["token"].(string)
	if token == "" || created["imageIncluded"] != true {
		t.Fatalf("unexpected create response %v", created)
	}
	if url, _ := created["url"].(string); url != "https://compliance.example.com/app#report="+token {
		t.Fatalf("unexpected url %q", url)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/share/"+token, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload share.Payload
	json.Unmarshal(resp.Body.Bytes(), &payload)
	if !strings.Contains(string(payload.Data), "Kimono") || payload.Image != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestShareExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := setupRouter(&now)
	token := createShare(t, r, `{"report":{"productName":"Kimono"}}`)["token"].(string)

	now = now.Add(8 * 24 * time.Hour)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/share/"+token, nil))
	if resp.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.Code)
	}
}

func TestShareMalformedToken(t *testing.T) {
	now := time.Now()
	r := setupRouter(&now)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/share/@@@not-base64", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestShareRequiresReport(t *testing.T) {
	now := time.Now()
	r := setupRouter(&now)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/share", bytes.NewReader([]byte(`{"image":"x"}`))))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
