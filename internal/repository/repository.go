package repository

import (
	"context"
	"errors"

	"github.com/NikKowPHP/meetup/internal/models"
)

// ErrDuplicate is returned by InsertEvent when another event already holds the
// same source URL. Callers treat it as "discard", never as a failure.
var ErrDuplicate = errors.New("event with this source url already exists")

// ErrRejected is returned by InsertEvent when storage refuses the row's data
// (out-of-range numbers, invalid text, constraint checks). The row is bad, the
// store is fine: callers drop the event and carry on.
var ErrRejected = errors.New("event rejected by storage")

// EventRepository is the storage contract the pipeline and search consume.
// The pipeline only inserts; it never updates or deletes stored events.
type EventRepository interface {
	// FindEventBySourceURL returns nil, nil when no event has the URL.
	FindEventBySourceURL(ctx context.Context, sourceURL string) (*models.Event, error)
	// InsertEvent must be atomic per source URL: of two concurrent inserts for
	// the same URL exactly one succeeds and the other gets ErrDuplicate.
	// Data the schema cannot hold yields an error wrapping ErrRejected.
	InsertEvent(ctx context.Context, item *models.Event) error
	GetEventByID(ctx context.Context, id uint64) (*models.Event, error)
	ListEvents(ctx context.Context, params ListEventsParams) ([]models.Event, error)
	CountEvents(ctx context.Context, params ListEventsParams) (int64, error)
}

type SourceStateRepository interface {
	UpsertSourceState(ctx context.Context, item *models.SourceState) error
	ListSourceStates(ctx context.Context) ([]models.SourceState, error)
}

type SettingsRepository interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error)
}

type Repository interface {
	EventRepository
	SourceStateRepository
	SettingsRepository
}

type ListEventsParams struct {
	Limit    int
	Offset   int
	Statuses []models.Status
	Source   *models.Source
	// AfterID enables keyset scans; zero disables it.
	AfterID uint64
	OrderBy string
	Asc     *bool
}
