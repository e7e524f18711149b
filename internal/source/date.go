package source

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layouts carrying their own offset.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
}

// Layouts interpreted in the configured default location. Numeric forms like
// 02/01/2006 are deliberately absent: day and month order is ambiguous.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Monday, January 2, 2006 at 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006 at 3:04 PM",
	"Mon, Jan 2, 2006 3:04 PM",
	"January 2, 2006 at 3:04 PM",
	"January 2, 2006 3:04 PM",
	"January 2, 2006 15:04",
	"Jan 2, 2006 at 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006 15:04",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006 15:04",
	"2 January 2006",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
}

var (
	spaceRe   = regexp.MustCompile(`\s+`)
	ordinalRe = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
)

// ParseDate resolves free-form date text scraped from HTML. Text that matches
// none of the known layouts is an error and the caller drops the item.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if loc == nil {
		loc = time.UTC
	}
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, " am", " AM")
	s = strings.ReplaceAll(s, " pm", " PM")

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", raw)
}

// LoadLocation falls back to UTC for empty or unknown zone names.
func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
