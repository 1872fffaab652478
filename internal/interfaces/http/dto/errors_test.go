package dto

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"not found", ErrCodeNotFound, http.StatusNotFound},
		{"unauthorized", ErrCodeUnauthorized, http.StatusUnauthorized},
		{"token expired", ErrCodeTokenExpired, http.StatusUnauthorized},
		{"bad request", ErrCodeBadRequest, http.StatusBadRequest},
		{"conflict", ErrCodeConflict, http.StatusConflict},
		{"connection required", ErrCodeConnectionRequired, http.StatusUnprocessableEntity},
		{"sync paused", ErrCodeSyncPaused, http.StatusUnprocessableEntity},
		{"rate limited", ErrCodeRateLimited, http.StatusTooManyRequests},
		{"internal", ErrCodeInternal, http.StatusInternalServerError},
		{"unmapped code falls back to 500", "ERR_SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.code))
		})
	}
}

func TestNewErrorResponseWithRequestID(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeNotFound, "sync record not found", "req-123")

	assert.False(t, resp.Success)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "sync record not found", resp.Error.Message)
	assert.Equal(t, "req-123", resp.Error.RequestID)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]string{"a", "b"}, 45, 2, 20)

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Meta)
	assert.Equal(t, int64(45), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.Page)
	assert.Equal(t, 3, resp.Meta.TotalPages)
}
