package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/repository"
)

func DefaultFeatureSwitches() map[string]bool {
	out := map[string]bool{models.FeaturePipeline: true}
	for _, src := range models.Sources() {
		out[models.FeatureSourceKey(src)] = true
	}
	return out
}

type SystemSettingsService struct {
	Repo repository.SettingsRepository
}

// EnsureDefaultSwitches creates missing switches. Existing values are left
// alone so operator choices survive restarts.
func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

func (s *SystemSettingsService) List(ctx context.Context) ([]models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListSystemSettings(ctx)
}

// IsKnownSwitch guards the settings API against arbitrary keys.
func IsKnownSwitch(key string) bool {
	_, ok := DefaultFeatureSwitches()[strings.TrimSpace(key)]
	return ok
}

type SourceStateService struct {
	Repo repository.SourceStateRepository
}

func (s *SourceStateService) List(ctx context.Context) ([]models.SourceState, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListSourceStates(ctx)
}
