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

// BlogSource scrapes article listings from configured blog pages.
type BlogSource struct {
	Logger *zap.Logger
	Opts   ScrapeOptions
}

type blogPost struct {
	Page     string `json:"page"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Content  string `json:"content"`
	Link     string `json:"link"`
	Image    string `json:"image"`
	Location string `json:"location"`
}

func (s *BlogSource) Name() models.Source { return models.SourceBlog }

func (s *BlogSource) Fetch(ctx context.Context) (Result, error) {
	if len(cleanURLs(s.Opts.URLs)) == 0 {
		return Result{}, misconfigured(s.Name(), "no blog urls configured")
	}
	var posts []blogPost
	err := scrapePages(ctx, string(s.Name()), s.Opts, func(c *colly.Collector, pageURL string) {
		c.OnHTML("article", func(e *colly.HTMLElement) {
			posts = append(posts, blogPost{
				Page:     pageURL,
				Title:    strings.TrimSpace(e.ChildText("h2")),
				Date:     strings.TrimSpace(e.ChildText(".post-date")),
				Content:  strings.TrimSpace(e.ChildText(".post-content")),
				Link:     e.ChildAttr("a", "href"),
				Image:    e.ChildAttr("img", "src"),
				Location: strings.TrimSpace(e.ChildText(".location")),
			})
		})
	})
	if err != nil {
		return Result{}, unreachable(s.Name(), err)
	}
	loc := s.Opts.location()
	var res Result
	for _, p := range posts {
		ev, err := mapBlogPost(p, loc)
		if err != nil {
			res.Dropped++
			logDrop(s.Logger, s.Name(), err)
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func mapBlogPost(p blogPost, loc *time.Location) (models.Event, error) {
	start, err := ParseDate(p.Date, loc)
	if err != nil {
		return models.Event{}, fmt.Errorf("blog post %q: %w", p.Title, err)
	}
	link := postURL(p.Page, p.Link, p.Title)
	raw, _ := json.Marshal(p)
	ev := models.Event{
		Title:       p.Title,
		Start:       start,
		Description: p.Content,
		Location:    models.NewLocation(p.Location, nil),
		ImageURL:    optionalString(absoluteURL(p.Page, p.Image)),
		SourceURL:   link,
		Categories:  models.NormalizeCategories(nil),
		Source:      models.SourceBlog,
		RawJSON:     raw,
	}
	if err := validation.Candidate(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}
