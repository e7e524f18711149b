package service

import (
	"context"
	"errors"
	"sort"

	"github.com/NikKowPHP/meetup/internal/filter"
	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/repository"
)

const (
	defaultScanBatch = 500
	defaultMaxScan   = 20000
)

// SearchService applies filter criteria to the stored collection. The store is
// scanned in id order and filtered in memory; pagination happens afterwards so
// Total is the number of matches.
type SearchService struct {
	Repo      repository.EventRepository
	ScanBatch int
	MaxScan   int
}

type Page struct {
	Limit  int
	Offset int
}

type SearchParams struct {
	Criteria filter.Criteria
	// Statuses defaults to everything except FLAGGED.
	Statuses []models.Status
	Source   *models.Source
	Page     Page
}

type SearchResult struct {
	Items []models.Event
	Total int
	// Truncated is set when the scan stopped at MaxScan rows.
	Truncated bool
}

func DefaultSearchStatuses() []models.Status {
	return []models.Status{models.StatusDraft, models.StatusPublished}
}

func (s *SearchService) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	if s == nil || s.Repo == nil {
		return SearchResult{}, errors.New("search service not configured")
	}
	batch := s.ScanBatch
	if batch <= 0 || batch > 500 {
		batch = defaultScanBatch
	}
	maxScan := s.MaxScan
	if maxScan <= 0 {
		maxScan = defaultMaxScan
	}
	statuses := params.Statuses
	if len(statuses) == 0 {
		statuses = DefaultSearchStatuses()
	}
	pred := filter.New(params.Criteria)

	var (
		matches   []models.Event
		scanned   int
		afterID   uint64
		truncated bool
	)
	for {
		items, err := s.Repo.ListEvents(ctx, repository.ListEventsParams{
			Limit:    batch,
			Statuses: statuses,
			Source:   params.Source,
			AfterID:  afterID,
		})
		if err != nil {
			return SearchResult{}, err
		}
		matches = append(matches, filter.Apply(items, pred)...)
		scanned += len(items)
		if len(items) < batch {
			break
		}
		afterID = items[len(items)-1].ID
		if scanned >= maxScan {
			truncated = true
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].Start.Equal(matches[j].Start) {
			return matches[i].Start.Before(matches[j].Start)
		}
		return matches[i].ID < matches[j].ID
	})
	return SearchResult{
		Items:     paginate(matches, params.Page),
		Total:     len(matches),
		Truncated: truncated,
	}, nil
}

func paginate(items []models.Event, p Page) []models.Event {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []models.Event{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// EventQueryService serves plain listings straight from storage.
type EventQueryService struct {
	Repo repository.EventRepository
}

type EventsResult struct {
	Items []models.Event
	Total int64
}

func (s *EventQueryService) ListEvents(ctx context.Context, params repository.ListEventsParams) (EventsResult, error) {
	total, err := s.Repo.CountEvents(ctx, params)
	if err != nil {
		return EventsResult{}, err
	}
	items, err := s.Repo.ListEvents(ctx, params)
	if err != nil {
		return EventsResult{}, err
	}
	return EventsResult{Items: items, Total: total}, nil
}

func (s *EventQueryService) GetEvent(ctx context.Context, id uint64) (*models.Event, error) {
	return s.Repo.GetEventByID(ctx, id)
}
