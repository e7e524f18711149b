// Package pipeline runs one ingestion pass: fetch every enabled source
// concurrently, then admit the candidates through the dedup gate in a fixed
// order so the stored result never depends on which source answered first.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/report"
	"github.com/NikKowPHP/meetup/internal/repository"
	"github.com/NikKowPHP/meetup/internal/source"
	"github.com/NikKowPHP/meetup/internal/validation"
)

// ErrPersistence aborts a run. Events admitted before the failure stay stored.
var ErrPersistence = errors.New("persistence failure")

const (
	defaultSourceTimeout = 2 * time.Minute
	defaultConcurrency   = 5
)

type Options struct {
	SourceTimeout time.Duration
	Concurrency   int
	// Retries re-attempts unreachable sources within the source timeout.
	Retries      int
	RetryBackoff time.Duration
}

// Switches reports runtime feature flags; SystemSettingsService satisfies it.
type Switches interface {
	IsEnabled(ctx context.Context, key string, fallback bool) bool
}

type Publisher interface {
	Publish(events ...models.Event)
}

type Orchestrator struct {
	Sources  []source.Source
	Gate     *Gate
	Reporter report.Reporter
	Logger   *zap.Logger
	Switches Switches
	States   repository.SourceStateRepository
	Hub      Publisher
	Options  Options

	now func() time.Time
}

type SourceOutcome struct {
	Source     models.Source
	Skipped    bool
	Fetched    int
	Accepted   int
	Duplicates int
	Dropped    int
	Err        error
	ErrorKind  string
	Duration   time.Duration
}

type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Accepted   []models.Event
	Sources    []SourceOutcome
}

func (r *RunResult) Summary() report.Summary {
	if r == nil {
		return report.Summary{}
	}
	out := report.Summary{
		RunID:      r.RunID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Accepted:   len(r.Accepted),
	}
	for _, o := range r.Sources {
		if o.Skipped {
			continue
		}
		s := report.SourceSummary{
			Source:     o.Source,
			Fetched:    o.Fetched,
			Accepted:   o.Accepted,
			Duplicates: o.Duplicates,
			Dropped:    o.Dropped,
			ErrorKind:  o.ErrorKind,
		}
		if o.Err != nil {
			s.Error = o.Err.Error()
		}
		out.Sources = append(out.Sources, s)
	}
	return out
}

type fetched struct {
	res      source.Result
	err      error
	duration time.Duration
}

// Run performs one pass. It is safe to call concurrently; the storage unique
// constraint settles races between overlapping runs.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o == nil || o.Gate == nil {
		return nil, errors.New("orchestrator not configured")
	}
	result := &RunResult{RunID: uuid.NewString(), StartedAt: o.clock()}
	logger := o.logger().With(zap.String("run_id", result.RunID))

	active := make([]source.Source, 0, len(o.Sources))
	for _, src := range o.Sources {
		if src == nil {
			continue
		}
		if o.Switches != nil && !o.Switches.IsEnabled(ctx, models.FeatureSourceKey(src.Name()), true) {
			result.Sources = append(result.Sources, SourceOutcome{Source: src.Name(), Skipped: true})
			logger.Debug("source disabled", zap.String("source", string(src.Name())))
			continue
		}
		active = append(active, src)
	}

	slots := o.fetchAll(ctx, active)

	var runErr error
	for i, src := range active {
		out := SourceOutcome{Source: src.Name(), Duration: slots[i].duration}
		if runErr != nil {
			out.Err = fmt.Errorf("%s: run aborted before admission", src.Name())
			out.ErrorKind = source.KindFailed
			result.Sources = append(result.Sources, out)
			continue
		}
		if err := slots[i].err; err != nil {
			out.Err = err
			out.ErrorKind = source.Classify(err)
			logger.Warn("source fetch failed",
				zap.String("source", string(src.Name())),
				zap.String("kind", out.ErrorKind),
				zap.Error(err),
			)
			o.reporter().SourceFailed(ctx, src.Name(), out.ErrorKind, err)
			result.Sources = append(result.Sources, out)
			continue
		}
		out.Fetched = len(slots[i].res.Events)
		out.Dropped = slots[i].res.Dropped
		accepted, err := o.admit(ctx, logger, src.Name(), slots[i].res.Events, &out)
		result.Accepted = append(result.Accepted, accepted...)
		if err != nil {
			runErr = fmt.Errorf("%w: %s: %w", ErrPersistence, src.Name(), err)
			out.Err = err
			out.ErrorKind = source.KindFailed
			logger.Error("persisting events failed", zap.String("source", string(src.Name())), zap.Error(err))
		}
		result.Sources = append(result.Sources, out)
	}
	result.FinishedAt = o.clock()

	o.recordStates(ctx, logger, result)
	if o.Hub != nil && len(result.Accepted) > 0 {
		o.Hub.Publish(result.Accepted...)
	}
	summary := result.Summary()
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	o.reporter().RunFinished(ctx, summary)
	return result, runErr
}

// fetchAll runs every source under its own timeout. Each source writes only
// its own slot, so a failing or panicking source cannot disturb the others.
func (o *Orchestrator) fetchAll(ctx context.Context, sources []source.Source) []fetched {
	slots := make([]fetched, len(sources))
	limit := o.Options.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			started := time.Now()
			res, err := o.fetchWithRetry(ctx, src)
			slots[i] = fetched{res: res, err: err, duration: time.Since(started)}
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (o *Orchestrator) fetchWithRetry(ctx context.Context, src source.Source) (source.Result, error) {
	timeout := o.Options.SourceTimeout
	if timeout <= 0 {
		timeout = defaultSourceTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := o.Options.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for attempt := 0; ; attempt++ {
		res, err := fetchOnce(ctx, src)
		if err == nil || attempt >= o.Options.Retries || !errors.Is(err, source.ErrUnreachable) {
			return res, err
		}
		o.logger().Debug("retrying source",
			zap.String("source", string(src.Name())),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return source.Result{}, err
		case <-timer.C:
		}
		backoff *= 2
	}
}

// fetchOnce does not trust the adapter to honour ctx: the run moves on when
// the deadline passes even if Fetch is still blocked.
func fetchOnce(ctx context.Context, src source.Source) (source.Result, error) {
	type outcome struct {
		res source.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("%s: panic: %v", src.Name(), r)}
			}
		}()
		res, err := src.Fetch(ctx)
		ch <- outcome{res: res, err: err}
	}()
	select {
	case out := <-ch:
		if out.err != nil {
			return source.Result{}, out.err
		}
		return out.res, nil
	case <-ctx.Done():
		return source.Result{}, fmt.Errorf("%s: %w", src.Name(), ctx.Err())
	}
}

func (o *Orchestrator) admit(ctx context.Context, logger *zap.Logger, name models.Source, events []models.Event, out *SourceOutcome) ([]models.Event, error) {
	var accepted []models.Event
	for i := range events {
		ev := events[i]
		if ev.Source == "" {
			ev.Source = name
		}
		if ev.Source != name {
			out.Dropped++
			logger.Warn("dropped candidate with foreign source tag",
				zap.String("source", string(name)),
				zap.String("tag", string(ev.Source)),
				zap.String("source_url", ev.SourceURL),
			)
			continue
		}
		if err := validation.Candidate(&ev); err != nil {
			out.Dropped++
			logger.Warn("dropped invalid candidate", zap.String("source", string(name)), zap.Error(err))
			continue
		}
		decision, err := o.Gate.Admit(ctx, &ev)
		if err != nil {
			return accepted, err
		}
		switch decision {
		case DecisionAccepted:
			out.Accepted++
			accepted = append(accepted, ev)
		case DecisionRejected:
			out.Dropped++
		case DecisionDuplicate:
			out.Duplicates++
			logger.Debug("duplicate discarded", zap.String("source", string(name)), zap.String("source_url", ev.SourceURL))
		}
	}
	return accepted, nil
}

func (o *Orchestrator) recordStates(ctx context.Context, logger *zap.Logger, result *RunResult) {
	if o.States == nil {
		return
	}
	for _, out := range result.Sources {
		item := &models.SourceState{
			Name:          string(out.Source),
			Enabled:       !out.Skipped,
			HealthStatus:  models.HealthHealthy,
			LastRunID:     result.RunID,
			LastErrorKind: out.ErrorKind,
			Fetched:       out.Fetched,
			Accepted:      out.Accepted,
			Duplicates:    out.Duplicates,
			Dropped:       out.Dropped,
			DurationMs:    out.Duration.Milliseconds(),
		}
		switch {
		case out.Skipped:
			item.HealthStatus = models.HealthDisabled
		case out.Err != nil:
			item.HealthStatus = models.HealthFailing
			msg := out.Err.Error()
			item.LastError = &msg
		default:
			finished := result.FinishedAt
			item.LastSuccessAt = &finished
		}
		if !out.Skipped {
			started := result.StartedAt
			item.LastAttemptAt = &started
		}
		if err := o.States.UpsertSourceState(ctx, item); err != nil {
			logger.Warn("source state upsert failed", zap.String("source", item.Name), zap.Error(err))
		}
	}
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Orchestrator) reporter() report.Reporter {
	if o.Reporter == nil {
		return report.Nop{}
	}
	return o.Reporter
}
