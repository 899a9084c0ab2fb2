// Package handlers 提供 gin 上的 JSON API，本体只做参数解析和错误翻译，
// 规则都在 services 层。
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"coursetalk/internal/services"
	"coursetalk/internal/store"
)

type Handler struct {
	forum     *services.Forum
	sanitizer *bluemonday.Policy
}

func New(forum *services.Forum) *Handler {
	return &Handler{
		forum:     forum,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// clean 清洗用户提交的正文，防 XSS
func (h *Handler) clean(s string) string {
	return h.sanitizer.Sanitize(s)
}

// writeErr 按错误分类映射 HTTP 状态码
func writeErr(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInvalidEndorsementTarget):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrParentNotFound),
		errors.Is(err, store.ErrCrossTenantReference):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrThreadClosed),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConcurrencyConflict):
		status = http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
