package status

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	scannedAt := "2026-10-25T08:00:00Z"
	enriched := ErrAlreadyScanned.With(map[string]any{"scanned_at": scannedAt})
	wrapped := fmt.Errorf("scan: %w", enriched)

	assert.True(t, errors.Is(wrapped, ErrAlreadyScanned))
	assert.False(t, errors.Is(wrapped, ErrAlreadyCancelled))
	assert.Nil(t, ErrAlreadyScanned.Details)
	assert.Equal(t, scannedAt, enriched.Details["scanned_at"])
}

func TestMissingField(t *testing.T) {
	err := MissingField("eventId")

	assert.True(t, errors.Is(err, ErrMissingField))
	assert.Equal(t, "eventId is required", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.Status)
}

func TestClassify(t *testing.T) {
	appErr, known := Classify(fmt.Errorf("checkout: %w", ErrRateLimitExceeded))
	assert.True(t, known)
	assert.Equal(t, http.StatusTooManyRequests, appErr.Status)

	appErr, known = Classify(errors.New("sqlite: disk I/O error"))
	assert.False(t, known)
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)
	assert.NotContains(t, appErr.Message, "sqlite")
}
