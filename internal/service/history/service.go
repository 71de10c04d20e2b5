package history

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/model/report"
	"github.com/zhouzirui/global-compliance/backend/internal/store/kv"
)

const (
	// StorageKey 与前端 localStorage 使用同一个键。
	StorageKey = "global_compliance_history_v3"
	// Limit 是保留的最大记录数。
	Limit = 50
)

var ErrNotFound = errors.New("history item not found")

// Service keeps the newest analyses under a single key, newest first.
type Service struct {
	mu    sync.Mutex
	store kv.Store
	now   func() time.Time
}

func NewService(store kv.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Save prepends item and trims the list to Limit. Missing id and timestamp are filled in.
func (s *Service) Save(ctx context.Context, item report.HistoryItem) (report.HistoryItem, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Timestamp == 0 {
		item.Timestamp = s.now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return report.HistoryItem{}, err
	}

	next := make([]report.HistoryItem, 0, len(items)+1)
	next = append(next, item)
	for _, existing := range items {
		if existing.ID != item.ID {
			next = append(next, existing)
		}
	}
	if len(next) > Limit {
		next = next[:Limit]
	}

	if err := s.persist(ctx, next); err != nil {
		return report.HistoryItem{}, err
	}
	return item, nil
}

// List returns every stored item, newest first.
func (s *Service) List(ctx context.Context) ([]report.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (report.HistoryItem, error) {
	items, err := s.List(ctx)
	if err != nil {
		return report.HistoryItem{}, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return report.HistoryItem{}, ErrNotFound
}

// Clear removes the whole history.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(ctx, StorageKey); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "history.clear", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context) ([]report.HistoryItem, error) {
	raw, ok, err := s.store.Get(ctx, StorageKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "history.load", err)
	}
	if !ok || len(raw) == 0 {
		return []report.HistoryItem{}, nil
	}

	var items []report.HistoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindParse, Op: "history.load", Msg: "stored history is corrupt", Err: err}
	}
	return items, nil
}

func (s *Service) persist(ctx context.Context, items []report.HistoryItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return apperr.Wrap(apperr.KindParse, "history.persist", err)
	}
	if err := s.store.Set(ctx, StorageKey, raw); err != nil {
		return apperr.Wrap(apperr.KindUpstream, "history.persist", err)
	}
	return nil
}
