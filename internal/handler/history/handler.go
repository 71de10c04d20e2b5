package history

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	historyService "github.com/zhouzirui/global-compliance/backend/internal/service/history"
	"github.com/zhouzirui/global-compliance/backend/pkg/utils"
)

// Handler 分析历史的HTTP处理器
type Handler struct {
	svc *historyService.Service
}

func New(svc *historyService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Delete("/", h.handleClear)
		r.Get("/{id}", h.handleGet)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context())
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, historyService.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "history item not found")
		return
	}
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, item)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Clear(r.Context()); err != nil {
		utils.RespondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
