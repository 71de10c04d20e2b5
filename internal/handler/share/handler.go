package share

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	"github.com/zhouzirui/global-compliance/backend/internal/share"
	"github.com/zhouzirui/global-compliance/backend/pkg/utils"
)

// 请求体上限：报告 + 图片 data URL，略高于令牌预算。
const maxBodyBytes = 4 << 20

// Handler 分享链接的HTTP处理器
type Handler struct {
	codec   *share.Codec
	baseURL string
}

// New 创建分享处理器；baseURL 为前端页面地址，为空时只返回 token。
func New(codec *share.Codec, baseURL string) *Handler {
	return &Handler{codec: codec, baseURL: baseURL}
}

// RegisterRoutes 注册分享相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/share", h.handleCreate)
	r.Get("/share/{token}", h.handleOpen)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Report json.RawMessage `json:"report"`
		Image  string          `json:"image"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(payload.Report) == 0 || string(payload.Report) == "null" {
		utils.RespondError(w, http.StatusBadRequest, "report is required")
		return
	}

	token, err := h.codec.Encode(payload.Report, payload.Image)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	resp := map[string]any{
		"token":         token,
		"imageIncluded": payload.Image != "" && len(payload.Image) < h.codec.MaxImageBytes,
	}
	if h.baseURL != "" {
		link, err := share.Link(h.baseURL, token)
		if err != nil {
			logging.Warnw("invalid public base url", "url", h.baseURL, "error", err)
		} else {
			resp["url"] = link
		}
	}
	utils.RespondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	payload, err := h.codec.Open(chi.URLParam(r, "token"))
	if errors.Is(err, share.ErrExpired) {
		utils.RespondError(w, http.StatusGone, "This shared report has expired")
		return
	}
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}
