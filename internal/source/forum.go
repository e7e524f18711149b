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

// ForumSource scrapes community forum threads. Only posts that look like
// event announcements are kept; everything else is skipped without counting
// as dropped.
type ForumSource struct {
	Logger *zap.Logger
	Opts   ScrapeOptions
}

type forumPost struct {
	Page     string `json:"page"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Content  string `json:"content"`
	Link     string `json:"link"`
	Author   string `json:"author"`
	Location string `json:"location"`
}

func (s *ForumSource) Name() models.Source { return models.SourceForum }

func (s *ForumSource) Fetch(ctx context.Context) (Result, error) {
	if len(cleanURLs(s.Opts.URLs)) == 0 {
		return Result{}, misconfigured(s.Name(), "no forum urls configured")
	}
	var posts []forumPost
	err := scrapePages(ctx, string(s.Name()), s.Opts, func(c *colly.Collector, pageURL string) {
		c.OnHTML(".forum-post", func(e *colly.HTMLElement) {
			posts = append(posts, forumPost{
				Page:     pageURL,
				Title:    strings.TrimSpace(e.ChildText(".post-title")),
				Date:     strings.TrimSpace(e.ChildText(".post-date")),
				Content:  strings.TrimSpace(e.ChildText(".post-content")),
				Link:     e.ChildAttr("a", "href"),
				Author:   strings.TrimSpace(e.ChildText(".post-author")),
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
		if !looksLikeEvent(p) {
			continue
		}
		ev, err := mapForumPost(p, loc)
		if err != nil {
			res.Dropped++
			logDrop(s.Logger, s.Name(), err)
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

func looksLikeEvent(p forumPost) bool {
	return strings.Contains(strings.ToLower(p.Title), "event") ||
		strings.Contains(strings.ToLower(p.Content), "event")
}

func mapForumPost(p forumPost, loc *time.Location) (models.Event, error) {
	start, err := ParseDate(p.Date, loc)
	if err != nil {
		return models.Event{}, fmt.Errorf("forum post %q: %w", p.Title, err)
	}
	link := postURL(p.Page, p.Link, p.Title)
	description := p.Content
	if p.Author != "" {
		description = joinNonEmpty("\n\n", p.Content, "Posted by "+p.Author)
	}
	raw, _ := json.Marshal(p)
	ev := models.Event{
		Title:       p.Title,
		Start:       start,
		Description: description,
		Location:    models.NewLocation(p.Location, nil),
		SourceURL:   link,
		Categories:  models.NormalizeCategories(nil),
		Source:      models.SourceForum,
		RawJSON:     raw,
	}
	if err := validation.Candidate(&ev); err != nil {
		return models.Event{}, err
	}
	return ev, nil
}
