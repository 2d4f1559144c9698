package security

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"culturepass/internal/status"
	"culturepass/monitoring"

	"github.com/pocketbase/pocketbase/core"
)

const (
	ActionCheckout = "checkout"
	ActionScan     = "scan"
	ActionRefund   = "refund"
	ActionIssue    = "cpid"
	ActionGlobal   = "global"
)

// Guard applies per-action quotas from a Limiter.
type Guard struct {
	limiter Limiter
	rules   map[string]Rule
}

func NewGuard(limiter Limiter, rules map[string]Rule) *Guard {
	return &Guard{limiter: limiter, rules: rules}
}

// Check consumes one call of action for actor. Actions without a rule are
// unlimited. A failing limiter backend lets the call through.
func (g *Guard) Check(ctx context.Context, action, actor string) error {
	rule, ok := g.rules[action]
	if !ok || rule.Limit <= 0 {
		return nil
	}

	d, err := g.limiter.Allow(ctx, Key(action, actor), rule)
	if err != nil {
		slog.Error("rate limiter unavailable, allowing request", "action", action, "error", err)
		return nil
	}
	if !d.Allowed {
		monitoring.TrackRateLimited(action)
		return status.ErrRateLimitExceeded.With(map[string]any{
			"retry_after": int(math.Ceil(d.RetryAfter.Seconds())),
		})
	}
	return nil
}

// RateLimit limits a route per client IP.
func (g *Guard) RateLimit(action string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if err := g.Check(e.Request.Context(), action, e.RealIP()); err != nil {
			return writeLimited(e, err)
		}
		return e.Next()
	}
}

// AntiBot rejects crawler user agents and caps the overall request rate
// per IP.
func (g *Guard) AntiBot() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return e.JSON(403, map[string]any{
				"success": false,
				"error":   map[string]any{"code": "ACCESS_DENIED", "message": "Access denied"},
			})
		}

		if err := g.Check(e.Request.Context(), ActionGlobal, e.RealIP()); err != nil {
			return writeLimited(e, err)
		}
		return e.Next()
	}
}

func writeLimited(e *core.RequestEvent, err error) error {
	appErr, _ := status.Classify(err)
	if secs, ok := appErr.Details["retry_after"].(int); ok && secs > 0 {
		e.Response.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	return e.JSON(appErr.Status, appErr.Body())
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	ua = strings.ToLower(ua)
	for _, pattern := range suspicious {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
