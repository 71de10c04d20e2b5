package history_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/model/report"
	"github.com/zhouzirui/global-compliance/backend/internal/service/history"
	"github.com/zhouzirui/global-compliance/backend/internal/store/kv"
)

func TestSaveKeepsNewestFirstAndCaps(t *testing.T) {
	svc := history.NewService(kv.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < history.Limit+5; i++ {
		_, err := svc.Save(ctx, report.HistoryItem{
			ID:   fmt.Sprintf("item-%02d", i),
			Data: report.ComplianceReport{ProductName: fmt.Sprintf("product %d", i)},
		})
		if err != nil {
			t.Fatalf("Save %d err: %v", i, err)
		}
	}

	items, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List err: %v", err)
	}
	if len(items) != history.Limit {
		t.Fatalf("expected %d items, got %d", history.Limit, len(items))
	}
	if items[0].ID != "item-54" {
		t.Fatalf("expected newest first, got %s", items[0].ID)
	}
	if items[len(items)-1].ID != "item-05" {
		t.Fatalf("expected oldest survivors trimmed, last is %s", items[len(items)-1].ID)
	}
}

func TestSaveAssignsIdentity(t *testing.T) {
	svc := history.NewService(kv.NewMemoryStore())
	saved, err := svc.Save(context.Background(), report.HistoryItem{Image: "data:image/png;base64,AA=="})
	if err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if saved.ID == "" || saved.Timestamp == 0 {
		t.Fatalf("identity not assigned: %+v", saved)
	}

	got, err := svc.Get(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if got.Image != saved.Image {
		t.Fatalf("unexpected image %q", got.Image)
	}
}

func TestGetMissingAndClear(t *testing.T) {
	svc := history.NewService(kv.NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.Save(ctx, report.HistoryItem{}); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := svc.Clear(ctx); err != nil {
		t.Fatalf("Clear err: %v", err)
	}
	items, err := svc.List(ctx)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty history, got %d items err=%v", len(items), err)
	}
}

func TestCorruptStorageIsParseError(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = store.Set(context.Background(), history.StorageKey, []byte("{not json"))

	svc := history.NewService(store)
	if _, err := svc.List(context.Background()); !errors.Is(err, apperr.ErrParse) {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestHistoryOverSQLite(t *testing.T) {
	store, err := kv.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite err: %v", err)
	}
	defer store.Close()

	svc := history.NewService(store)
	if _, err := svc.Save(context.Background(), report.HistoryItem{ID: "a"}); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	items, err := svc.List(context.Background())
	if err != nil || len(items) != 1 || items[0].ID != "a" {
		t.Fatalf("unexpected items %+v err=%v", items, err)
	}
}
