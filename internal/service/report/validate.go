package report

import (
	"encoding/base64"
	"strings"

	"github.com/zhouzirui/global-compliance/backend/internal/apperr"
)

// MaxUploadBytes 上传图片的大小上限（5 MiB）。
const MaxUploadBytes = 5 * 1024 * 1024

var (
	ErrUnsupportedType = apperr.New(apperr.KindValidation, "report.upload", "Unsupported file type. Please upload an image (JPG, PNG, etc).")
	ErrFileTooLarge    = apperr.New(apperr.KindValidation, "report.upload", "File too large. Maximum size is 5MB.")
)

// ValidateUpload checks a product photo before it is read into memory.
func ValidateUpload(size int64, contentType string) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return ErrUnsupportedType
	}
	if size > MaxUploadBytes {
		return ErrFileTooLarge
	}
	return nil
}

// DataURL renders image bytes as a data URL, the form history items and share links carry.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
