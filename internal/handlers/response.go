package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"culturepass/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

func ok(e *core.RequestEvent, code int, data any) error {
	return e.JSON(code, map[string]any{"success": true, "data": data})
}

// fail writes err as the error envelope. Unclassified errors are logged
// here and reach the client only as INTERNAL_ERROR.
func fail(e *core.RequestEvent, op string, err error) error {
	appErr, known := status.Classify(err)
	if !known {
		slog.Error(op, "method", e.Request.Method, "path", e.Request.URL.Path, "error", err)
	}
	if secs, has := appErr.Details["retry_after"].(int); has && secs > 0 {
		e.Response.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return e.JSON(appErr.Status, appErr.Body())
}

func badRequest(e *core.RequestEvent, err error) error {
	return e.JSON(http.StatusBadRequest, status.ErrInvalidRequest.With(map[string]any{
		"reason": err.Error(),
	}).Body())
}
