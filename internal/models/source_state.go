package models

import "time"

const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthFailing  = "failing"
	HealthDisabled = "disabled"
)

// SourceState stores the outcome of the latest pipeline run for one source, so
// operators can see which upstream keeps breaking.
type SourceState struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string     `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Enabled       bool       `gorm:"default:true" json:"enabled"`
	HealthStatus  string     `gorm:"type:varchar(20);default:'unknown'" json:"health_status"`
	LastRunID     string     `gorm:"type:varchar(64)" json:"last_run_id"`
	LastAttemptAt *time.Time `gorm:"type:timestamptz" json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `gorm:"type:timestamptz" json:"last_success_at,omitempty"`
	LastError     *string    `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorKind string     `gorm:"type:varchar(20)" json:"last_error_kind,omitempty"`
	Fetched       int        `gorm:"not null;default:0" json:"fetched"`
	Accepted      int        `gorm:"not null;default:0" json:"accepted"`
	Duplicates    int        `gorm:"not null;default:0" json:"duplicates"`
	Dropped       int        `gorm:"not null;default:0" json:"dropped"`
	DurationMs    int64      `gorm:"not null;default:0" json:"duration_ms"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SourceState) TableName() string {
	return "source_states"
}
