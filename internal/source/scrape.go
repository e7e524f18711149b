package source

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// ScrapeOptions are shared by the HTML-scraped adapters.
type ScrapeOptions struct {
	URLs      []string
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

func (o ScrapeOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func newCollector(ctx context.Context, opts ScrapeOptions) *colly.Collector {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "meetup-ingestor/1.0"
	}
	c := colly.NewCollector(
		colly.UserAgent(ua),
		colly.AllowURLRevisit(),
	)
	c.WithTransport(ctxTransport{ctx: ctx, next: http.DefaultTransport})
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return c
}

// ctxTransport ties every collector request to the fetch context so a source
// timeout aborts in-flight page loads.
type ctxTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(req.WithContext(t.ctx))
}

// scrapePages visits every URL with a fresh collector; onPage registers the
// OnHTML callbacks for that page. The first failing page fails the whole fetch.
func scrapePages(ctx context.Context, src string, opts ScrapeOptions, onPage func(c *colly.Collector, pageURL string)) error {
	for _, pageURL := range opts.URLs {
		pageURL = strings.TrimSpace(pageURL)
		if pageURL == "" {
			continue
		}
		c := newCollector(ctx, opts)
		onPage(c, pageURL)
		if err := c.Visit(pageURL); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return &pageError{URL: pageURL, Err: err}
		}
		c.Wait()
	}
	return nil
}

type pageError struct {
	URL string
	Err error
}

func (e *pageError) Error() string { return e.URL + ": " + e.Err.Error() }
func (e *pageError) Unwrap() error { return e.Err }

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// absoluteURL resolves ref against base; empty refs resolve to "".
func absoluteURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return b.ResolveReference(r).String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// postURL resolves a post's link. Links that point back at the page itself,
// such as "#" share buttons, fall back to a per-post key like missing links do.
func postURL(pageURL, link, title string) string {
	resolved := absoluteURL(pageURL, link)
	if resolved == "" || sameDocument(resolved, pageURL) {
		return fallbackURL(pageURL, title)
	}
	return resolved
}

func sameDocument(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	ua.Fragment, ub.Fragment = "", ""
	ua.RawFragment, ub.RawFragment = "", ""
	return ua.String() == ub.String()
}

// fallbackURL gives link-less posts a per-post dedup key on their page.
func fallbackURL(pageURL, title string) string {
	slug := slugify(title)
	if slug == "" {
		return ""
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	u.Fragment = slug
	return u.String()
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
