package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/global-compliance/backend/internal/model/report"
	historyService "github.com/zhouzirui/global-compliance/backend/internal/service/history"
	"github.com/zhouzirui/global-compliance/backend/internal/store/kv"
)

func setupRouter(t *testing.T) (*chi.Mux, *historyService.Service) {
	t.Helper()
	svc := historyService.NewService(kv.NewMemoryStore())
	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r, svc
}

func TestListGetClear(t *testing.T) {
	r, svc := setupRouter(t)
	ctx := context.Background()
	saved, err := svc.Save(ctx, report.HistoryItem{Data: report.ComplianceReport{ProductName: "Tea Set", Country: "France"}})
	if err != nil {
		t.Fatalf("Save err: %v", err)
	}

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/history", nil))
	var items []report.HistoryItem
	json.Unmarshal(resp.Body.Bytes(), &items)
	if resp.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("list: %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/history/"+saved.ID, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/history", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/history/"+saved.ID, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("get after clear: expected 404, got %d", resp.Code)
	}
}

func TestListEmpty(t *testing.T) {
	r, _ := setupRouter(t)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/history", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "[]\n" {
		t.Fatalf("expected empty array, got %q", body)
	}
}
