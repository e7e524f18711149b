package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/validation"
)

// EventbriteSource reads the owned-events listing of the Eventbrite v3 API.
type EventbriteSource struct {
	HTTP     *http.Client
	Logger   *zap.Logger
	BaseURL  string
	APIKey   string
	MaxPages int
}

type eventbritePage struct {
	Events     []json.RawMessage `json:"events"`
	Pagination struct {
		HasMoreItems bool   `json:"has_more_items"`
		Continuation string `json:"continuation"`
	} `json:"pagination"`
}

type eventbriteText struct {
	Text string `json:"text"`
}

type eventbriteTime struct {
	UTC string `json:"utc"`
}

type eventbriteEvent struct {
	Name        eventbriteText  `json:"name"`
	Start       eventbriteTime  `json:"start"`
	End         *eventbriteTime `json:"end"`
	Description *eventbriteText `json:"description"`
	Venue       *struct {
		Address *struct {
			LocalizedAddressDisplay string `json:"localized_address_display"`
		} `json:"address"`
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
	} `json:"venue"`
	Logo *struct {
		Original *struct {
			URL string `json:"url"`
		} `json:"original"`
	} `json:"logo"`
	URL      string `json:"url"`
	Category *struct {
		ShortName string `json:"short_name"`
	} `json:"category"`
	IsFree             *bool `json:"is_free"`
	TicketAvailability *struct {
		MinimumTicketPrice *struct {
			MajorValue string `json:"major_value"`
		} `json:"minimum_ticket_price"`
	} `json:"ticket_availability"`
}

// flexFloat accepts both JSON numbers and numeric strings; Eventbrite sends
// coordinates as strings.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*f = flexFloat{Value: v, Set: true}
	return nil
}

func (s *EventbriteSource) Name() models.Source { return models.SourceEventbrite }

func (s *EventbriteSource) Fetch(ctx context.Context) (Result, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return Result{}, misconfigured(s.Name(), "api key not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = "https://www.eventbriteapi.com/v3"
	}
	client := s.HTTP
	if client == nil {
		client = defaultHTTPClient(0)
	}
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	headers := map[string]string{"Authorization": "Bearer " + strings.TrimSpace(s.APIKey)}

	var res Result
	continuation := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("expand", "venue,category,ticket_availability")
		if continuation != "" {
			q.Set("continuation", continuation)
		}
		var body eventbritePage
		if err := getJSON(ctx, client, base+"/users/me/owned_events?"+q.Encode(), headers, &body); err != nil {
			return Result{}, unreachable(s.Name(), err)
		}
		for _, raw := range body.Events {
			ev, err := mapEventbriteEvent(raw)
			if err != nil {
				res.Dropped++
				logDrop(s.Logger, s.Name(), err)
				continue
			}
			res.Events = append(res.Events, ev)
		}
		if !body.Pagination.HasMoreItems || body.Pagination.Continuation == "" {
			break
		}
		continuation = body.Pagination.Continuation
	}
	return res, nil
}

func mapEventbriteEvent(raw json.RawMessage) (models.Event, error) {
	var in eventbriteEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.Event{}, fmt.Errorf("decode eventbrite event: %w", err)
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(in.Start.UTC))
	if err != nil {
		return models.Event{}, fmt.Errorf("eventbrite start %q: %w", in.Start.UTC, err)
	}
	ev := models.Event{
		Title:     strings.TrimSpace(in.Name.Text),
		Start:     start.UTC(),
		SourceURL: strings.TrimSpace(in.URL),
		Source:    models.SourceEventbrite,
		RawJSON:   []byte(raw),
	}
	if in.End != nil && strings.TrimSpace(in.End.UTC) != "" {
		end, err := time.Parse(time.RFC3339, strings.TrimSpace(in.End.UTC))
		if err != nil {
			return models.Event{}, fmt.Errorf("eventbrite end %q: %w", in.End.UTC, err)
		}
		end = end.UTC()
		ev.End = &end
	}
	if in.Description != nil {
		ev.Description = strings.TrimSpace(in.Description.Text)
	}
	address := ""
	var coords *models.Coordinates
	if in.Venue != nil {
		if in.Venue.Address != nil {
			address = in.Venue.Address.LocalizedAddressDisplay
		}
		if in.Venue.Latitude.Set && in.Venue.Longitude.Set && (in.Venue.Latitude.Value != 0 || in.Venue.Longitude.Value != 0) {
			coords = &models.Coordinates{Lat: in.Venue.Latitude.Value, Lng: in.Venue.Longitude.Value}
		}
	}
	ev.Location = models.NewLocation(address, coords)
	if in.Logo != nil && in.Logo.Original != nil {
		ev.ImageURL = optionalString(in.Logo.Original.URL)
	}
	var categories []string
	if in.Category != nil {
		categories = append(categories, in.Category.ShortName)
	}
	ev.Categories = models.NormalizeCategories(categories)
	ev.Price = eventbritePrice(in)
	if err := validation.Candidate(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}

func eventbritePrice(in eventbriteEvent) *decimal.Decimal {
	if in.IsFree != nil && *in.IsFree {
		zero := decimal.Zero
		return &zero
	}
	if in.TicketAvailability == nil || in.TicketAvailability.MinimumTicketPrice == nil {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(in.TicketAvailability.MinimumTicketPrice.MajorValue))
	if err != nil || d.IsNegative() {
		return nil
	}
	return &d
}

func logDrop(logger *zap.Logger, src models.Source, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dropped malformed candidate", zap.String("source", string(src)), zap.Error(err))
}
