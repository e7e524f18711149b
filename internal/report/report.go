// Package report delivers per-source failures and run summaries to operators.
// Implementations are injected; there is no process-wide reporter.
package report

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
)

type Reporter interface {
	SourceFailed(ctx context.Context, source models.Source, kind string, err error)
	RunFinished(ctx context.Context, summary Summary)
}

type SourceSummary struct {
	Source     models.Source `json:"source"`
	Fetched    int           `json:"fetched"`
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Dropped    int           `json:"dropped"`
	ErrorKind  string        `json:"errorKind,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Summary struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Accepted   int             `json:"accepted"`
	Sources    []SourceSummary `json:"sources"`
	Error      string          `json:"error,omitempty"`
}

// Failed lists the sources that did not complete.
func (s Summary) Failed() []models.Source {
	var out []models.Source
	for _, src := range s.Sources {
		if src.ErrorKind != "" {
			out = append(out, src.Source)
		}
	}
	return out
}

type Nop struct{}

func (Nop) SourceFailed(context.Context, models.Source, string, error) {}
func (Nop) RunFinished(context.Context, Summary)                       {}

// Log writes everything to zap.
type Log struct {
	Logger *zap.Logger
}

func (l Log) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	if l.Logger == nil {
		return
	}
	l.Logger.Warn("source failed",
		zap.String("source", string(source)),
		zap.String("kind", kind),
		zap.Error(err),
	)
}

func (l Log) RunFinished(ctx context.Context, s Summary) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.Int("accepted", s.Accepted),
		zap.Duration("took", s.FinishedAt.Sub(s.StartedAt)),
		zap.Int("failed_sources", len(s.Failed())),
	}
	if s.Error != "" {
		l.Logger.Error("pipeline run aborted", append(fields, zap.String("error", s.Error))...)
		return
	}
	l.Logger.Info("pipeline run finished", fields...)
}

// Multi fans out to every non-nil reporter in order.
type Multi []Reporter

func (m Multi) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	for _, r := range m {
		if r != nil {
			r.SourceFailed(ctx, source, kind, err)
		}
	}
}

func (m Multi) RunFinished(ctx context.Context, s Summary) {
	for _, r := range m {
		if r != nil {
			r.RunFinished(ctx, s)
		}
	}
}

// Recorder keeps everything it receives. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	Failures []Failure
	Runs     []Summary
}

type Failure struct {
	Source models.Source
	Kind   string
	Err    error
}

func (r *Recorder) SourceFailed(ctx context.Context, source models.Source, kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures = append(r.Failures, Failure{Source: source, Kind: kind, Err: err})
}

func (r *Recorder) RunFinished(ctx context.Context, s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs = append(r.Runs, s)
}

func (r *Recorder) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Failures)
}
