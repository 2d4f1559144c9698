package status

import (
	"errors"
	"net/http"
)

// AppError is an error the API surfaces to callers with a stable code.
type AppError struct {
	Code    string         `json:"code"`
	Status  int            `json:"-"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any AppError carrying the same code, so wrapped or
// detail-enriched copies still satisfy errors.Is against the sentinels.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying details.
func (e *AppError) With(details map[string]any) *AppError {
	c := *e
	c.Details = details
	return &c
}

func newError(code string, status int, message string) *AppError {
	return &AppError{Code: code, Status: status, Message: message}
}

var (
	ErrRegistryExhausted        = newError("CPID_EXHAUSTED", http.StatusInternalServerError, "Unable to allocate a unique identifier")
	ErrRegistryNotFound         = newError("CPID_NOT_FOUND", http.StatusNotFound, "Identifier not found")
	ErrInvalidEntityKind        = newError("INVALID_ENTITY_TYPE", http.StatusBadRequest, "Unknown entity type")
	ErrDuplicatePendingPurchase = newError("DUPLICATE_PURCHASE", http.StatusConflict, "You already have a pending purchase for this event")
	ErrRateLimitExceeded        = newError("RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests, "Too many requests. Please wait and try again.")
	ErrTicketNotFound           = newError("TICKET_NOT_FOUND", http.StatusNotFound, "Ticket not found")
	ErrAlreadyScanned           = newError("TICKET_ALREADY_SCANNED", http.StatusConflict, "Ticket has already been scanned")
	ErrAlreadyCancelled         = newError("TICKET_ALREADY_CANCELLED", http.StatusConflict, "Ticket has been cancelled")
	ErrCannotRefundScanned      = newError("TICKET_CANNOT_REFUND", http.StatusConflict, "Cannot refund a scanned ticket")
	ErrPaymentPending           = newError("PAYMENT_PENDING", http.StatusPaymentRequired, "Payment for this ticket has not been completed")
	ErrTicketExpired            = newError("TICKET_EXPIRED", http.StatusGone, "Ticket has expired")
	ErrPaymentGateway           = newError("PAYMENT_GATEWAY_ERROR", http.StatusBadGateway, "Payment service error. Please try again.")
	ErrInvalidSignature         = newError("INVALID_SIGNATURE", http.StatusBadRequest, "Notification signature could not be verified")
	ErrInvalidAmount            = newError("INVALID_AMOUNT", http.StatusBadRequest, "Invalid amount")
	ErrInvalidRequest           = newError("INVALID_REQUEST", http.StatusBadRequest, "Invalid request")
	ErrMissingField             = newError("MISSING_REQUIRED_FIELD", http.StatusBadRequest, "Missing required field")
	ErrPaymentMismatch          = newError("PAYMENT_MISMATCH", http.StatusConflict, "Payment reference does not match this ticket")
	ErrInvalidTransition        = newError("INVALID_TRANSITION", http.StatusConflict, "Ticket cannot make this transition")
	ErrRefundInProgress         = newError("TICKET_REFUND_PENDING", http.StatusConflict, "A refund for this ticket is in progress")
)

// ErrInternal is what callers see for anything unclassified.
var ErrInternal = newError("INTERNAL_ERROR", http.StatusInternalServerError, "Something went wrong. Please try again.")

// MissingField reports which required field was absent.
func MissingField(name string) *AppError {
	c := *ErrMissingField
	c.Message = name + " is required"
	c.Details = map[string]any{"field": name}
	return &c
}

// Classify returns the AppError carried by err, or ErrInternal with
// known=false when err is unclassified.
func Classify(err error) (appErr *AppError, known bool) {
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return ErrInternal, false
}

// Body is the JSON envelope for a failed request.
func (e *AppError) Body() map[string]any {
	body := map[string]any{"code": e.Code, "message": e.Message}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	return map[string]any{"success": false, "error": body}
}
