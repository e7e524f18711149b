package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/models"
	"github.com/NikKowPHP/meetup/internal/validation"
)

// FacebookSource scrapes public event pages. Only markup that is present in
// the served HTML is read; nothing is rendered.
type FacebookSource struct {
	Logger *zap.Logger
	Opts   ScrapeOptions
}

type facebookPost struct {
	Page     string `json:"page"`
	Name     string `json:"name"`
	Time     string `json:"time"`
	Location string `json:"location"`
	Image    string `json:"image"`
	Link     string `json:"link"`
}

func (s *FacebookSource) Name() models.Source { return models.SourceFacebook }

func (s *FacebookSource) Fetch(ctx context.Context) (Result, error) {
	if len(cleanURLs(s.Opts.URLs)) == 0 {
		return Result{}, misconfigured(s.Name(), "no page urls configured")
	}
	var posts []facebookPost
	err := scrapePages(ctx, string(s.Name()), s.Opts, func(c *colly.Collector, pageURL string) {
		c.OnHTML(`[role="article"]`, func(e *colly.HTMLElement) {
			posts = append(posts, facebookPost{
				Page:     pageURL,
				Name:     strings.TrimSpace(e.ChildText(`[data-testid="event-permalink-event-name"]`)),
				Time:     strings.TrimSpace(e.ChildText(`[data-testid="event-time-info"]`)),
				Location: strings.TrimSpace(e.ChildText(`[data-testid="event-permalink-details"]`)),
				Image:    e.ChildAttr("img", "src"),
				Link:     e.ChildAttr("a", "href"),
			})
		})
	})
	if err != nil {
		return Result{}, unreachable(s.Name(), err)
	}
	loc := s.Opts.location()
	var res Result
	for _, p := range posts {
		ev, err := mapFacebookPost(p, loc)
		if err != nil {
			res.Dropped++
			logDrop(s.Logger, s.Name(), err)
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func mapFacebookPost(p facebookPost, loc *time.Location) (models.Event, error) {
	start, err := ParseDate(p.Time, loc)
	if err != nil {
		return models.Event{}, fmt.Errorf("facebook post %q: %w", p.Name, err)
	}
	link := postURL(p.Page, p.Link, p.Name)
	raw, _ := json.Marshal(p)
	ev := models.Event{
		Title:      p.Name,
		Start:      start,
		Location:   models.NewLocation(p.Location, nil),
		ImageURL:   optionalString(absoluteURL(p.Page, p.Image)),
		SourceURL:  link,
		Categories: models.NormalizeCategories(nil),
		Source:     models.SourceFacebook,
		RawJSON:    raw,
	}
	if err := validation.Candidate(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}
