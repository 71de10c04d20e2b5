package utils

import (
	"encoding/json"
	"net/http"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
	"github.com/zhouzirui/global-compliance/backend/internal/logging"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warnw("failed to encode response", "error", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondAppError 根据错误类别选择状态码，并只暴露面向用户的文案。
func RespondAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Errorw("request failed", "status", status, "error", err)
	}
	RespondJSON(w, status, map[string]string{
		"error": apperr.Message(err),
		"kind":  string(apperr.KindOf(err)),
	})
}

// StatusFor maps an error kind to an HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindDecode:
		return http.StatusBadRequest
	case apperr.KindShareTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.KindConfig, apperr.KindDevice:
		return http.StatusServiceUnavailable
	case apperr.KindParse:
		return http.StatusUnprocessableEntity
	case apperr.KindUpstream, apperr.KindEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
