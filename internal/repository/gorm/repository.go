package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/repository"
)

const pgUniqueViolation = "23505"

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- events -----------------------------------------------------------------

func (s *Store) FindEventBySourceURL(ctx context.Context, sourceURL string) (*models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, nil
	}
	var item models.Event
	err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("source_url = ?", sourceURL).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertEvent relies on the unique index over source_url. ON CONFLICT DO NOTHING
// turns a lost race into zero affected rows instead of an aborted statement.
func (s *Store) InsertEvent(ctx context.Context, item *models.Event) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.StatusDraft
	}
	if item.Categories == nil {
		item.Categories = []string{}
	}
	res := insertEventQuery(s.db.WithContext(ctx), item)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return repository.ErrDuplicate
		}
		if isDataRejection(res.Error) {
			return fmt.Errorf("%w: %w", repository.ErrRejected, res.Error)
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrDuplicate
	}
	return nil
}

func insertEventQuery(db *gorm.DB, item *models.Event) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_url"}},
		DoNothing: true,
	}).Create(item)
}

func (s *Store) GetEventByID(ctx context.Context, id uint64) (*models.Event, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Event
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListEvents(ctx context.Context, params repository.ListEventsParams) ([]models.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.eventsQuery(ctx, params)
	if params.AfterID > 0 {
		query = query.Where("id > ?", params.AfterID).Order("id asc")
	} else {
		query = applyOrder(query, params.OrderBy, params.Asc, "starts_at")
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Event
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountEvents(ctx context.Context, params repository.ListEventsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.eventsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) eventsQuery(ctx context.Context, params repository.ListEventsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Event{})
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if params.Source != nil && *params.Source != "" {
		query = query.Where("source = ?", *params.Source)
	}
	return query
}

// --- source states ----------------------------------------------------------

func (s *Store) UpsertSourceState(ctx context.Context, item *models.SourceState) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	// A failed run must not erase the last known success.
	updates := append(clause.AssignmentColumns([]string{
		"enabled",
		"health_status",
		"last_run_id",
		"last_attempt_at",
		"last_error",
		"last_error_kind",
		"fetched",
		"accepted",
		"duplicates",
		"dropped",
		"duration_ms",
		"updated_at",
	}), clause.Assignment{
		Column: clause.Column{Name: "last_success_at"},
		Value:  gorm.Expr("COALESCE(EXCLUDED.last_success_at, source_states.last_success_at)"),
	})
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: updates,
	}).Create(item).Error
}

func (s *Store) ListSourceStates(ctx context.Context) ([]models.SourceState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SourceState
	if err := s.db.WithContext(ctx).
		Model(&models.SourceState{}).
		Order("name asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- settings ---------------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).First(&item, "key = ?", strings.TrimSpace(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SystemSetting
	if err := s.db.WithContext(ctx).Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// isDataRejection matches SQLSTATE class 22 (data exception) and class 23
// (integrity constraint) other than unique violations. Connection and server
// failures fall outside both classes.
func isDataRejection(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"):
		return true
	case strings.HasPrefix(pgErr.Code, "23"):
		return pgErr.Code != pgUniqueViolation
	}
	return false
}

var orderColumns = map[string]string{
	"start":      "starts_at",
	"created_at": "created_at",
	"title":      "title",
	"id":         "id",
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column, ok := orderColumns[strings.TrimSpace(orderBy)]
	if !ok {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction + ", id " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
