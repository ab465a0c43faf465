// Package harvest drives a full pass over all configured entities: validate,
// list submissions, and retrieve the content each post references.
package harvest

import (
	"context"
	"time"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/fetch"
	"github.com/pyqlsa/redd-harvest/pkg/layout"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
	"github.com/pyqlsa/redd-harvest/pkg/reddit"
)

// Source lists an entity's submissions from upstream.
type Source interface {
	Validate(ctx context.Context, e *config.Entity) error
	Submissions(ctx context.Context, e *config.Entity) ([]*post.Post, error)
	Limits() reddit.Limits
}

// Retriever materializes the content a single post references.
type Retriever interface {
	Retrieve(ctx context.Context, e *config.Entity, p *post.Post) []fetch.Outcome
}

// Options narrows a harvest run.
type Options struct {
	SubredditsOnly bool
	RedditorsOnly  bool
	OnlyName       string
	SkipPrune      bool
}

// Harvester walks the configured entities and retrieves their content.
type Harvester struct {
	cfg       *config.Config
	source    Source
	retriever Retriever
	logger    logger.Logger
}

// New wires a Harvester from its collaborators.
func New(cfg *config.Config, source Source, retriever Retriever, log logger.Logger) *Harvester {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Harvester{
		cfg:       cfg,
		source:    source,
		retriever: retriever,
		logger:    log,
	}
}

// Run performs one pass over all selected entities. It returns ctx.Err when
// interrupted, nil otherwise; per-entity failures are logged and skipped so
// one bad entity never aborts the pass.
func (h *Harvester) Run(ctx context.Context, opts Options) error {
	if h.cfg.Globals.PruneIgnorables && !opts.SkipPrune {
		layout.PruneIgnorables(h.cfg, h.logger)
	}

	first := true
	for _, e := range h.cfg.Entities() {
		if !selected(e, opts) {
			continue
		}
		if !first {
			if err := h.backoff(ctx); err != nil {
				return err
			}
		}
		first = false

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.source.Validate(ctx, e); err != nil {
			h.logger.WarnWithFields("skipping entity that failed validation", map[string]interface{}{
				"entity": e.Name,
				"kind":   string(e.Kind),
				"error":  err.Error(),
			})
			continue
		}
		if !e.IsValid() {
			h.logger.WarnWithFields("skipping entity not confirmed upstream", map[string]interface{}{
				"entity": e.Name,
				"kind":   string(e.Kind),
			})
			continue
		}
		if err := h.harvestEntity(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harvester) harvestEntity(ctx context.Context, e *config.Entity) error {
	posts, err := h.source.Submissions(ctx, e)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.WarnWithFields("failed to list submissions", map[string]interface{}{
			"entity": e.Name,
			"error":  err.Error(),
		})
		return nil
	}

	var saved, dupes, skipped int
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Criteria.PostLimit > 0 && i >= e.Criteria.PostLimit {
			break
		}

		h.logger.DebugWithFields("processing post", map[string]interface{}{
			"entity":    e.Name,
			"post_id":   p.ID,
			"author":    p.Author,
			"subreddit": p.Subreddit,
			"url":       p.URL,
		})
		for _, o := range h.retriever.Retrieve(ctx, e, p) {
			switch o.Status {
			case fetch.StatusNewSaved:
				saved++
			case fetch.StatusAlreadySaved:
				dupes++
			default:
				skipped++
			}
			h.logger.InfoWithFields("post outcome", map[string]interface{}{
				"entity":  e.Name,
				"post_id": p.ID,
				"status":  string(o.Status),
				"url":     o.SourceURL,
				"path":    o.LocalPath,
			})
		}
	}

	h.logger.InfoWithFields("finished entity", map[string]interface{}{
		"entity":  e.Name,
		"kind":    string(e.Kind),
		"posts":   len(posts),
		"saved":   saved,
		"dupes":   dupes,
		"skipped": skipped,
	})
	return nil
}

// backoff pauses between entities. The pause stretches to the upstream
// rate-limit reset (capped by the configured maximum wait) when the request
// budget is exhausted, and aborts promptly on cancellation.
func (h *Harvester) backoff(ctx context.Context) error {
	wait := time.Duration(h.cfg.Globals.BackoffSleep)

	limits := h.source.Limits()
	if limits.Remaining <= 0 && !limits.Reset.IsZero() {
		untilReset := time.Until(limits.Reset)
		if untilReset > wait {
			wait = untilReset
		}
		if max := time.Duration(h.cfg.Globals.RateLimitMaxWait); wait > max {
			wait = max
		}
		h.logger.InfoWithFields("rate limit budget exhausted, backing off", map[string]interface{}{
			"used":  limits.Used,
			"reset": limits.Reset,
			"wait":  wait,
		})
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func selected(e *config.Entity, opts Options) bool {
	if opts.SubredditsOnly && e.Kind != config.KindSubreddit {
		return false
	}
	if opts.RedditorsOnly && e.Kind != config.KindRedditor {
		return false
	}
	if opts.OnlyName != "" && e.Name != opts.OnlyName && e.Alias != opts.OnlyName {
		return false
	}
	return true
}
