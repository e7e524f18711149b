// Package validation checks that an event candidate satisfies the canonical
// shape before it is allowed to leave an adapter or reach storage.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/NikKowPHP/meetup/internal/models"
)

// FieldError names one failed rule.
type FieldError struct {
	Field string
	Rule  string
}

// Error is returned when a candidate breaks one or more field rules.
type Error struct {
	SourceURL string
	Fields    []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}
	if e.SourceURL == "" {
		return "invalid event: " + strings.Join(parts, ", ")
	}
	return fmt.Sprintf("invalid event %s: %s", e.SourceURL, strings.Join(parts, ", "))
}

// Has reports whether the given field failed.
func (e *Error) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type candidate struct {
	Title     string           `validate:"required"`
	Start     time.Time        `validate:"-"`
	End       *time.Time       `validate:"-"`
	SourceURL string           `validate:"required,http_url"`
	ImageURL  string           `validate:"omitempty,url"`
	Source    string           `validate:"oneof=eventbrite meetup facebook blog forum"`
	Status    string           `validate:"omitempty,oneof=DRAFT PUBLISHED FLAGGED"`
	Price     *decimal.Decimal `validate:"-"`

	Description string   `validate:"-"`
	Address     string   `validate:"-"`
	Categories  []string `validate:"-"`
	RawJSON     []byte   `validate:"-"`
}

// maxPrice is the first value the numeric(12,2) price column cannot hold.
var maxPrice = decimal.New(1, 10)

// Postgres text columns reject NUL, and jsonb rejects the \u0000 escape.
var nulEscape = []byte(`\u0000`)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(candidateRules, candidate{})
	})
	return validate
}

func candidateRules(sl validator.StructLevel) {
	c := sl.Current().Interface().(candidate)
	if c.Start.IsZero() {
		sl.ReportError(c.Start, "start", "Start", "required", "")
	}
	if c.End != nil && !c.Start.IsZero() && c.End.Before(c.Start) {
		sl.ReportError(c.End, "end", "End", "gtefield", "Start")
	}
	if c.Price != nil && c.Price.IsNegative() {
		sl.ReportError(c.Price, "price", "Price", "gte", "0")
	}
	if c.Price != nil && c.Price.GreaterThanOrEqual(maxPrice) {
		sl.ReportError(c.Price, "price", "Price", "lt", maxPrice.String())
	}
	for field, v := range map[string]string{
		"Title":       c.Title,
		"Description": c.Description,
		"Address":     c.Address,
		"SourceURL":   c.SourceURL,
		"ImageURL":    c.ImageURL,
	} {
		if strings.ContainsRune(v, 0) {
			sl.ReportError(v, field, field, "nul", "")
		}
	}
	for _, cat := range c.Categories {
		if strings.ContainsRune(cat, 0) {
			sl.ReportError(c.Categories, "Categories", "Categories", "nul", "")
			break
		}
	}
	if bytes.Contains(c.RawJSON, nulEscape) || bytes.IndexByte(c.RawJSON, 0) >= 0 {
		sl.ReportError(c.RawJSON, "RawJSON", "RawJSON", "nul", "")
	}
}

var fieldNames = map[string]string{
	"Title":     "title",
	"Start":     "start",
	"End":       "end",
	"SourceURL": "sourceUrl",
	"ImageURL":  "imageUrl",
	"Source":    "source",
	"Status":    "status",
	"Price":     "price",

	"Description": "description",
	"Address":     "location.address",
	"Categories":  "categories",
	"RawJSON":     "rawJson",
}

// Candidate checks ev against the canonical event rules.
func Candidate(ev *models.Event) error {
	if ev == nil {
		return &Error{Fields: []FieldError{{Field: "event", Rule: "required"}}}
	}
	c := candidate{
		Title:     strings.TrimSpace(ev.Title),
		Start:     ev.Start,
		End:       ev.End,
		SourceURL: strings.TrimSpace(ev.SourceURL),
		Source:    string(ev.Source),
		Status:    string(ev.Status),
		Price:     ev.Price,

		Description: ev.Description,
		Address:     ev.Location.Address,
		Categories:  ev.Categories,
		RawJSON:     ev.RawJSON,
	}
	if ev.ImageURL != nil {
		c.ImageURL = strings.TrimSpace(*ev.ImageURL)
	}
	err := instance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Error{SourceURL: c.SourceURL}
	for _, fe := range verrs {
		name := fieldNames[fe.StructField()]
		if name == "" {
			name = fe.Field()
		}
		out.Fields = append(out.Fields, FieldError{Field: name, Rule: fe.Tag()})
	}
	return out
}
