package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"culturepass/internal/status"
	"culturepass/internal/store"
	"culturepass/models"
	"culturepass/monitoring"
	"culturepass/utils"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// CodePolicy controls how registry codes are drawn and when a saturated
// codespace gives up.
type CodePolicy struct {
	Prefix        string
	BaseLength    int
	WidenAfter    int // failed attempts before switching to WidenedLength
	WidenedLength int
	MaxAttempts   int
}

func DefaultCodePolicy() CodePolicy {
	return CodePolicy{
		Prefix:        "CP-",
		BaseLength:    6,
		WidenAfter:    10,
		WidenedLength: 7,
		MaxAttempts:   20,
	}
}

// LengthFor returns the body length used on the given zero-based attempt.
func (p CodePolicy) LengthFor(attempt int) int {
	if attempt >= p.WidenAfter {
		return p.WidenedLength
	}
	return p.BaseLength
}

// CodeSource draws a random code body of length n.
type CodeSource func(n int) (string, error)

type RegistryService struct {
	store  store.RegistryStore
	policy CodePolicy
	random CodeSource
	group  singleflight.Group
}

type RegistryOption func(*RegistryService)

func WithCodePolicy(p CodePolicy) RegistryOption {
	return func(s *RegistryService) { s.policy = p }
}

func WithCodeSource(src CodeSource) RegistryOption {
	return func(s *RegistryService) { s.random = src }
}

func NewRegistryService(st store.RegistryStore, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{
		store:  st,
		policy: DefaultCodePolicy(),
		random: utils.RandomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue returns the code bound to targetID, minting one on first use.
// Concurrent calls for the same kind and target share one issuance, which
// runs detached from any single caller's cancellation. A caller whose ctx
// ends stops waiting without failing the others.
func (s *RegistryService) Issue(ctx context.Context, targetID string, kind models.EntityKind) (string, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return "", status.MissingField("targetId")
	}
	if !kind.Valid() {
		return "", status.ErrInvalidEntityKind.With(map[string]any{"entityType": string(kind)})
	}

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(string(kind)+":"+targetID, func() (any, error) {
		return s.issue(shared, targetID, kind)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *RegistryService) issue(ctx context.Context, targetID string, kind models.EntityKind) (code string, err error) {
	ctx, span := startSpan(ctx, "RegistryService.Issue",
		attribute.String("cpid.kind", string(kind)),
		attribute.String("cpid.target", targetID),
	)
	defer func() { endSpan(span, err) }()

	existing, err := s.store.FindByTarget(ctx, targetID)
	if err == nil {
		return existing.Code, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup target %s: %w", targetID, err)
	}

	attempts := 0
	err = utils.WithRetry(ctx, utils.RetryPolicy{
		MaxAttempts: s.policy.MaxAttempts,
		Retryable:   utils.RetryOn(store.ErrDuplicateCode),
	}, func(attempt int) error {
		attempts = attempt + 1
		body, err := s.random(s.policy.LengthFor(attempt))
		if err != nil {
			return err
		}
		candidate := s.policy.Prefix + body
		if err := s.store.Insert(ctx, &models.RegistryEntry{
			Code:     candidate,
			TargetID: targetID,
			Kind:     kind,
		}); err != nil {
			return err
		}
		code = candidate
		return nil
	})
	monitoring.TrackIssueAttempts(string(kind), attempts)

	switch {
	case err == nil:
	case errors.Is(err, utils.ErrRetriesExhausted):
		slog.Error("registryService.Issue() codespace exhausted", "target", targetID, "kind", kind, "attempts", attempts)
		return "", status.ErrRegistryExhausted.With(map[string]any{"attempts": attempts})
	case errors.Is(err, store.ErrDuplicateTarget):
		// another issuer won the race for this target
		winner, ferr := s.store.FindByTarget(ctx, targetID)
		if ferr != nil {
			return "", fmt.Errorf("reload target %s: %w", targetID, ferr)
		}
		return winner.Code, nil
	default:
		return "", fmt.Errorf("issue code for %s: %w", targetID, err)
	}

	if lerr := s.store.LinkOwner(ctx, kind, targetID, code); lerr != nil {
		slog.Warn("registryService.Issue() owner not updated", "target", targetID, "kind", kind, "code", code, "error", lerr)
	}
	return code, nil
}

// Lookup resolves a code case-insensitively.
func (s *RegistryService) Lookup(ctx context.Context, code string) (*models.RegistryEntry, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, status.MissingField("code")
	}

	e, err := s.store.FindByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrRegistryNotFound.With(map[string]any{"code": code})
	}
	return e, err
}

func (s *RegistryService) List(ctx context.Context) ([]*models.RegistryEntry, error) {
	return s.store.List(ctx)
}
