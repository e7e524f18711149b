package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/repository"
	"github.com/NikKowPHP/meetup/internal/seen"
)

type Decision int

const (
	DecisionAccepted Decision = iota + 1
	DecisionDuplicate
	// DecisionRejected means storage refused the row's data; only this
	// candidate is lost.
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionAccepted:
		return "accepted"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Gate admits a candidate at most once per source URL. Storage is the
// authority; Seen only short-circuits lookups for URLs already known.
type Gate struct {
	Store  repository.EventRepository
	Seen   seen.Cache
	Logger *zap.Logger
}

// Admit persists ev when no stored event has its source URL. On acceptance ev
// carries the stored ID. Rows the store refuses for their content come back as
// DecisionRejected; any error returned is a storage failure.
func (g *Gate) Admit(ctx context.Context, ev *models.Event) (Decision, error) {
	if g == nil || g.Store == nil {
		return 0, errors.New("gate has no store")
	}
	key := strings.TrimSpace(ev.SourceURL)
	if g.seenBefore(ctx, key) {
		return DecisionDuplicate, nil
	}
	existing, err := g.Store.FindEventBySourceURL(ctx, key)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		g.mark(ctx, key)
		return DecisionDuplicate, nil
	}
	ev.SourceURL = key
	if ev.Status == "" {
		ev.Status = models.StatusDraft
	}
	if err := g.Store.InsertEvent(ctx, ev); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			g.mark(ctx, key)
			return DecisionDuplicate, nil
		case errors.Is(err, repository.ErrRejected):
			if g.Logger != nil {
				g.Logger.Warn("storage rejected candidate",
					zap.String("source", string(ev.Source)),
					zap.String("source_url", key),
					zap.Error(err),
				)
			}
			return DecisionRejected, nil
		}
		return 0, err
	}
	g.mark(ctx, key)
	return DecisionAccepted, nil
}

func (g *Gate) seenBefore(ctx context.Context, key string) bool {
	if g.Seen == nil {
		return false
	}
	ok, err := g.Seen.Seen(ctx, key)
	if err != nil {
		g.warn("seen cache lookup failed", err)
		return false
	}
	return ok
}

func (g *Gate) mark(ctx context.Context, key string) {
	if g.Seen == nil {
		return
	}
	if err := g.Seen.Mark(ctx, key); err != nil {
		g.warn("seen cache mark failed", err)
	}
}

func (g *Gate) warn(msg string, err error) {
	if g.Logger != nil {
		g.Logger.Warn(msg, zap.Error(err))
	}
}
