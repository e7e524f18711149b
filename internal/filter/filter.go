// Package filter builds predicates over stored events from user criteria.
// Every criterion is optional; present criteria are AND-combined.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/NikKowPHP/meetup/internal/models"
)

type PriceType string

const (
	PriceAll  PriceType = "all"
	PriceFree PriceType = "free"
	PricePaid PriceType = "paid"
)

func ParsePriceType(raw string) (PriceType, error) {
	switch PriceType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PriceAll:
		return PriceAll, nil
	case PriceFree:
		return PriceFree, nil
	case PricePaid:
		return PricePaid, nil
	default:
		return "", fmt.Errorf("invalid price type %q", raw)
	}
}

// DateRange bounds are inclusive; a nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

type Criteria struct {
	Categories []string
	DateRange  *DateRange
	PriceType  PriceType
	Query      string
	// UnknownPriceIsFree decides how events without a known price match the
	// free/paid filters. Nil means true.
	UnknownPriceIsFree *bool
}

type Predicate func(models.Event) bool

// New builds the predicate for c. Empty criteria accept every event.
func New(c Criteria) Predicate {
	var preds []Predicate
	if cats := models.NormalizeCategories(c.Categories); len(cats) > 0 {
		preds = append(preds, byCategories(cats))
	}
	if c.DateRange != nil && (c.DateRange.Start != nil || c.DateRange.End != nil) {
		preds = append(preds, byDate(*c.DateRange))
	}
	if c.PriceType == PriceFree || c.PriceType == PricePaid {
		unknownFree := c.UnknownPriceIsFree == nil || *c.UnknownPriceIsFree
		preds = append(preds, byPrice(c.PriceType, unknownFree))
	}
	if q := strings.ToLower(strings.TrimSpace(c.Query)); q != "" {
		preds = append(preds, byText(q))
	}
	return All(preds...)
}

func All(preds ...Predicate) Predicate {
	return func(ev models.Event) bool {
		for _, p := range preds {
			if p != nil && !p(ev) {
				return false
			}
		}
		return true
	}
}

func Apply(events []models.Event, pred Predicate) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if pred == nil || pred(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// ParseCategories splits a comma separated list.
func ParseCategories(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return models.NormalizeCategories(strings.Split(raw, ","))
}

func byCategories(want []string) Predicate {
	set := make(map[string]struct{}, len(want))
	for _, c := range want {
		set[c] = struct{}{}
	}
	return func(ev models.Event) bool {
		for _, c := range ev.Categories {
			if _, ok := set[strings.ToLower(strings.TrimSpace(c))]; ok {
				return true
			}
		}
		return false
	}
}

func byDate(r DateRange) Predicate {
	return func(ev models.Event) bool {
		if r.Start != nil && ev.Start.Before(*r.Start) {
			return false
		}
		if r.End != nil && ev.Start.After(*r.End) {
			return false
		}
		return true
	}
}

func byPrice(pt PriceType, unknownFree bool) Predicate {
	return func(ev models.Event) bool {
		if ev.Price == nil {
			return unknownFree && pt == PriceFree
		}
		if pt == PriceFree {
			return ev.Price.IsZero()
		}
		return ev.Price.IsPositive()
	}
}

func byText(q string) Predicate {
	return func(ev models.Event) bool {
		return strings.Contains(strings.ToLower(ev.Title), q) ||
			strings.Contains(strings.ToLower(ev.Description), q)
	}
}
