package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Event is the canonical event record every source adapter produces and every
// downstream consumer reads. Candidates fresh from an adapter have a zero ID and
// an empty Status; both are assigned at persistence time.
type Event struct {
	ID          uint64                      `gorm:"primaryKey;autoIncrement" json:"id,omitempty"`
	Title       string                      `gorm:"type:text;not null" json:"title"`
	Start       time.Time                   `gorm:"column:starts_at;type:timestamptz;not null;index" json:"start"`
	End         *time.Time                  `gorm:"column:ends_at;type:timestamptz" json:"end,omitempty"`
	Description string                      `gorm:"type:text;not null;default:''" json:"description"`
	Location    Location                    `gorm:"embedded;embeddedPrefix:location_" json:"location"`
	ImageURL    *string                     `gorm:"type:text" json:"imageUrl,omitempty"`
	SourceURL   string                      `gorm:"type:text;not null;uniqueIndex" json:"sourceUrl"`
	Categories  datatypes.JSONSlice[string] `gorm:"type:jsonb;not null" json:"categories"`
	Price       *decimal.Decimal            `gorm:"type:numeric(12,2)" json:"price,omitempty"`
	Source      Source                      `gorm:"type:varchar(20);not null;index" json:"source"`
	Status      Status                      `gorm:"type:varchar(20);not null;default:'DRAFT';index" json:"status,omitempty"`
	RawJSON     datatypes.JSON              `gorm:"type:jsonb" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"createdAt,omitempty"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updatedAt,omitempty"`
}

func (Event) TableName() string {
	return "events"
}

// IsFree reports a confirmed zero price. Unknown prices are not free here; the
// filter package decides how to treat them.
func (e Event) IsFree() bool {
	return e.Price != nil && e.Price.IsZero()
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location keeps coordinates as two nullable columns; use Coordinates() to read them.
type Location struct {
	Address string   `gorm:"type:text;not null;default:''"`
	Lat     *float64 `gorm:"type:double precision"`
	Lng     *float64 `gorm:"type:double precision"`
}

func NewLocation(address string, coords *Coordinates) Location {
	loc := Location{Address: strings.TrimSpace(address)}
	if coords != nil {
		lat, lng := coords.Lat, coords.Lng
		loc.Lat = &lat
		loc.Lng = &lng
	}
	return loc
}

func (l Location) Coordinates() *Coordinates {
	if l.Lat == nil || l.Lng == nil {
		return nil
	}
	return &Coordinates{Lat: *l.Lat, Lng: *l.Lng}
}

type locationJSON struct {
	Address     string       `json:"address"`
	Coordinates *Coordinates `json:"coordinates"`
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal(locationJSON{Address: l.Address, Coordinates: l.Coordinates()})
}

func (l *Location) UnmarshalJSON(b []byte) error {
	var raw locationJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*l = NewLocation(raw.Address, raw.Coordinates)
	return nil
}

// NormalizeCategories trims, lower-cases and de-duplicates tags. The result is
// sorted so equal sets compare equal; it is never nil.
func NormalizeCategories(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.ToLower(strings.TrimSpace(raw))
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	sort.Strings(out)
	return out
}
