package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/validation"
)

// MeetupSource reads upcoming events from the Meetup API. Times arrive as
// epoch milliseconds and the venue as separate address parts.
type MeetupSource struct {
	HTTP    *http.Client
	Logger  *zap.Logger
	BaseURL string
	APIKey  string
}

type meetupResponse struct {
	Events []json.RawMessage `json:"events"`
}

type meetupEvent struct {
	Name        string `json:"name"`
	Time        int64  `json:"time"`
	Duration    int64  `json:"duration"`
	Description string `json:"description"`
	Venue       *struct {
		Address1 string  `json:"address_1"`
		City     string  `json:"city"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
	} `json:"venue"`
	Link          string `json:"link"`
	FeaturedPhoto *struct {
		PhotoLink string `json:"photo_link"`
	} `json:"featured_photo"`
	Fee *struct {
		Amount float64 `json:"amount"`
	} `json:"fee"`
	Group *struct {
		Category *struct {
			Shortname string `json:"shortname"`
		} `json:"category"`
	} `json:"group"`
}

func (s *MeetupSource) Name() models.Source { return models.SourceMeetup }

func (s *MeetupSource) Fetch(ctx context.Context) (Result, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return Result{}, misconfigured(s.Name(), "api key not configured")
	}
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = "https://api.meetup.com"
	}
	client := s.HTTP
	if client == nil {
		client = defaultHTTPClient(0)
	}
	q := url.Values{}
	q.Set("key", strings.TrimSpace(s.APIKey))
	q.Set("fields", "featured_photo,group_category")

	var body meetupResponse
	if err := getJSON(ctx, client, base+"/find/upcoming_events?"+q.Encode(), nil, &body); err != nil {
		return Result{}, unreachable(s.Name(), err)
	}
	var res Result
	for _, raw := range body.Events {
		ev, err := mapMeetupEvent(raw)
		if err != nil {
			res.Dropped++
			logDrop(s.Logger, s.Name(), err)
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func mapMeetupEvent(raw json.RawMessage) (models.Event, error) {
	var in meetupEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		return models.Event{}, fmt.Errorf("decode meetup event: %w", err)
	}
	if in.Time <= 0 {
		return models.Event{}, fmt.Errorf("meetup event %q has no start time", in.Link)
	}
	start := time.UnixMilli(in.Time).UTC()
	ev := models.Event{
		Title:       strings.TrimSpace(in.Name),
		Start:       start,
		Description: strings.TrimSpace(in.Description),
		SourceURL:   strings.TrimSpace(in.Link),
		Source:      models.SourceMeetup,
		RawJSON:     []byte(raw),
	}
	if in.Duration > 0 {
		end := time.UnixMilli(in.Time + in.Duration).UTC()
		ev.End = &end
	}
	address := ""
	var coords *models.Coordinates
	if in.Venue != nil {
		address = joinNonEmpty(", ", in.Venue.Address1, in.Venue.City)
		if in.Venue.Lat != 0 || in.Venue.Lon != 0 {
			coords = &models.Coordinates{Lat: in.Venue.Lat, Lng: in.Venue.Lon}
		}
	}
	ev.Location = models.NewLocation(address, coords)
	if in.FeaturedPhoto != nil {
		ev.ImageURL = optionalString(in.FeaturedPhoto.PhotoLink)
	}
	var categories []string
	if in.Group != nil && in.Group.Category != nil {
		categories = append(categories, in.Group.Category.Shortname)
	}
	ev.Categories = models.NormalizeCategories(categories)
	if in.Fee != nil && in.Fee.Amount >= 0 {
		d := decimal.NewFromFloat(in.Fee.Amount)
		ev.Price = &d
	}
	if err := validation.Candidate(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}
