package source

import (
	"go.uber.org/zap"

	"github.com/NikKowPHP/meetup/internal/config"
)

// Build returns the enabled adapters in their fixed registration order.
// Adapters with missing credentials or URLs are still registered; they fail
// with ErrMisconfigured at fetch time so the run report attributes them.
func Build(cfg config.SourcesConfig, pipeline config.PipelineConfig, logger *zap.Logger) []Source {
	loc := LoadLocation(pipeline.DefaultTimezone)
	scrape := func(sc config.ScrapeConfig) ScrapeOptions {
		return ScrapeOptions{
			URLs:      cleanURLs(sc.URLs),
			Timeout:   sc.Timeout,
			UserAgent: pipeline.UserAgent,
			Location:  loc,
		}
	}

	var out []Source
	if cfg.Eventbrite.Enabled {
		out = append(out, &EventbriteSource{
			HTTP:     defaultHTTPClient(cfg.Eventbrite.Timeout),
			Logger:   logger,
			BaseURL:  cfg.Eventbrite.BaseURL,
			APIKey:   cfg.Eventbrite.APIKey,
			MaxPages: cfg.Eventbrite.MaxPages,
		})
	}
	if cfg.Meetup.Enabled {
		out = append(out, &MeetupSource{
			HTTP:    defaultHTTPClient(cfg.Meetup.Timeout),
			Logger:  logger,
			BaseURL: cfg.Meetup.BaseURL,
			APIKey:  cfg.Meetup.APIKey,
		})
	}
	if cfg.Facebook.Enabled {
		out = append(out, &FacebookSource{Logger: logger, Opts: scrape(cfg.Facebook)})
	}
	if cfg.Blog.Enabled {
		out = append(out, &BlogSource{Logger: logger, Opts: scrape(cfg.Blog)})
	}
	if cfg.Forum.Enabled {
		out = append(out, &ForumSource{Logger: logger, Opts: scrape(cfg.Forum)})
	}
	return out
}
