// Package source holds the per-origin adapters that turn upstream listings into
// canonical event candidates. Each adapter keeps its wire types private and only
// ever hands models.Event values across its boundary.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/NikKowPHP/meetup/internal/models"
)

var (
	// ErrMisconfigured means the adapter cannot run at all (missing key or URL).
	ErrMisconfigured = errors.New("source misconfigured")
	// ErrUnreachable covers transport failures, non-2xx answers and bodies
	// that cannot be decoded.
	ErrUnreachable = errors.New("source unreachable")
)

// Result is the outcome of one successful fetch. Dropped counts upstream items
// that could not be mapped into a valid candidate.
type Result struct {
	Events  []models.Event
	Dropped int
}

// Source fetches one origin. On error it returns a zero Result; it never hands
// back a partial batch. An empty Result with a nil error means the origin is
// reachable but currently has nothing to offer.
type Source interface {
	Name() models.Source
	Fetch(ctx context.Context) (Result, error)
}

// Error kinds used for attribution in logs, alerts and source_states.
const (
	KindMisconfigured = "misconfigured"
	KindUnreachable   = "unreachable"
	KindTimeout       = "timeout"
	KindFailed        = "failed"
)

func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMisconfigured):
		return KindMisconfigured
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrUnreachable):
		return KindUnreachable
	default:
		return KindFailed
	}
}

func misconfigured(src models.Source, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", src, ErrMisconfigured, fmt.Sprintf(format, args...))
}

func unreachable(src models.Source, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", src, err)
	}
	return fmt.Errorf("%s: %w: %v", src, ErrUnreachable, err)
}
