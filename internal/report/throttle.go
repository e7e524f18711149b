package report

import (
	"context"
	"sync"
	"time"

	"github.com/NikKowPHP/meetup/internal/models"
)

const DefaultThrottle = 5 * time.Minute

// Throttled suppresses repeated source failures with the same kind inside
// Window. Run summaries always pass through.
type Throttled struct {
	Next   Reporter
	Window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewThrottled(next Reporter, window time.Duration) *Throttled {
	if window <= 0 {
		window = DefaultThrottle
	}
	return &Throttled{Next: next, Window: window, last: map[string]time.Time{}, now: time.Now}
}

func (t *Throttled) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	if t == nil || t.Next == nil {
		return
	}
	if !t.allow(string(source) + "|" + kind) {
		return
	}
	t.Next.SourceFailed(ctx, source, kind, err)
}

func (t *Throttled) RunFinished(ctx context.Context, s Summary) {
	if t == nil || t.Next == nil {
		return
	}
	t.Next.RunFinished(ctx, s)
}

func (t *Throttled) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < t.Window {
		return false
	}
	t.last[key] = now
	return true
}
