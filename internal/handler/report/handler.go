package report

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
	reportmodel "github.com/zhouzirui/global-compliance/backend/internal/model/report"
	historyService "github.com/zhouzirui/global-compliance/backend/internal/service/history"
	reportService "github.com/zhouzirui/global-compliance/backend/internal/service/report"
	"github.com/zhouzirui/global-compliance/backend/pkg/utils"
)

const (
	// 读取上限留出余量，使略超 5MB 的图片仍能解析出来并得到明确的提示。
	maxFormBytes  = 2*reportService.MaxUploadBytes + 1<<20
	maxFormMemory = 8 << 20
)

// Handler 合规报告的HTTP处理器
type Handler struct {
	reports *reportService.Service
	history *historyService.Service
}

// New 创建报告处理器
func New(reports *reportService.Service, history *historyService.Service) *Handler {
	return &Handler{reports: reports, history: history}
}

// RegisterRoutes 注册报告相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.Post("/analyze", h.handleAnalyze)
		r.Post("/watchdog", h.handleWatchdog)
		r.Post("/tension", h.handleTension)
	})
}

// handleAnalyze 接收 multipart 表单：image、country、query
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondUploadError(w, reportService.ErrFileTooLarge)
			return
		}
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "image is required")
		return
	}
	defer file.Close()

	country := strings.TrimSpace(r.FormValue("country"))
	if country == "" {
		utils.RespondError(w, http.StatusBadRequest, "country is required")
		return
	}

	if header.Size > reportService.MaxUploadBytes {
		respondUploadError(w, reportService.ErrFileTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, reportService.MaxUploadBytes+1))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	// 以内容嗅探结果为准，防止伪造的 Content-Type
	mimeType := http.DetectContentType(data)
	if err := reportService.ValidateUpload(int64(len(data)), mimeType); err != nil {
		respondUploadError(w, err)
		return
	}

	ctx := r.Context()
	result, err := h.reports.Analyze(ctx, reportService.Request{
		Image:    data,
		MIMEType: mimeType,
		Country:  country,
		Query:    strings.TrimSpace(r.FormValue("query")),
	})
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}

	item, err := h.history.Save(ctx, reportmodel.HistoryItem{
		Image: reportService.DataURL(mimeType, data),
		Data:  *result,
	})
	if err != nil {
		// 报告已经生成，历史写入失败不应丢弃结果
		logging.Warnw("failed to persist history item", "error", err)
		item = reportmodel.HistoryItem{Image: reportService.DataURL(mimeType, data), Data: *result}
	}

	utils.RespondJSON(w, http.StatusOK, item)
}

func (h *Handler) handleWatchdog(w http.ResponseWriter, r *http.Request) {
	report, ok := decodeReport(w, r)
	if !ok {
		return
	}
	text, err := h.reports.WatchdogCheck(r.Context(), report)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *Handler) handleTension(w http.ResponseWriter, r *http.Request) {
	report, ok := decodeReport(w, r)
	if !ok {
		return
	}
	tension, err := h.reports.TensionCheck(r.Context(), report)
	if err != nil {
		utils.RespondAppError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, tension)
}

func respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reportService.ErrFileTooLarge):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, apperr.Message(err))
	case errors.Is(err, reportService.ErrUnsupportedType):
		utils.RespondError(w, http.StatusUnsupportedMediaType, apperr.Message(err))
	default:
		utils.RespondAppError(w, err)
	}
}

func decodeReport(w http.ResponseWriter, r *http.Request) (*reportmodel.ComplianceReport, bool) {
	var report reportmodel.ComplianceReport
	if err := json.NewDecoder(io.LimitReader(r.Body, reportService.MaxUploadBytes)).Decode(&report); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if report.ProductName == "" || report.Country == "" {
		utils.RespondAppError(w, apperr.New(apperr.KindValidation, "report.decode", "productName and country are required"))
		return nil, false
	}
	return &report, true
}
