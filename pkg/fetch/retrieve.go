package fetch

import (
	"context"
	"path/filepath"

	"github.com/pyqlsa/redd-harvest/internal/downloader"
	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/extract"
	"github.com/pyqlsa/redd-harvest/pkg/layout"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
	"github.com/pyqlsa/redd-harvest/pkg/store"
)

// Status classifies the result of attempting to materialize one candidate
// URL.
type Status string

const (
	StatusNewSaved      Status = "NEW_SAVED"
	StatusAlreadySaved  Status = "ALREADY_SAVED"
	StatusNotSaved      Status = "NOT_SAVED"
	StatusIgnored       Status = "IGNORED"
	StatusAgeRestricted Status = "AGE_RESTRICTED"
)

// Outcome reports what happened to one candidate URL of a post.
type Outcome struct {
	Status    Status
	SourceURL string
	LocalPath string
	Digest    string
}

// Retriever implements resolve-and-fetch: it extracts a post's candidate
// URLs, downloads them on a bounded worker pool, and saves content-addressed
// files into the resolved destination folder.
type Retriever struct {
	cfg       *config.Config
	client    *Client
	store     *store.Store
	resolver  *layout.Resolver
	extractor *extract.Extractor
	logger    logger.Logger
}

// NewRetriever wires a Retriever from its collaborators.
func NewRetriever(cfg *config.Config, client *Client, st *store.Store, resolver *layout.Resolver, extractor *extract.Extractor, log logger.Logger) *Retriever {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Retriever{
		cfg:       cfg,
		client:    client,
		store:     st,
		resolver:  resolver,
		extractor: extractor,
		logger:    log,
	}
}

// Retrieve attempts to materialize all content referenced by the post,
// returning one outcome per candidate URL. Ignored and age-restricted posts
// short-circuit before any network fetch.
func (r *Retriever) Retrieve(ctx context.Context, e *config.Entity, p *post.Post) []Outcome {
	if r.cfg.ShouldIgnore(p.Author, p.Subreddit) {
		return []Outcome{{Status: StatusIgnored, SourceURL: p.URL}}
	}
	if p.NSFW && !r.cfg.Globals.AllowNSFW {
		return []Outcome{{Status: StatusAgeRestricted, SourceURL: p.URL}}
	}

	urls := r.extractor.DownloadURLs(ctx, p)
	if len(urls) == 0 {
		return []Outcome{{Status: StatusNotSaved, SourceURL: p.URL}}
	}

	pl := &placement{
		retriever: r,
		subFolder: r.resolver.SubFolder(e, p),
	}
	pool := downloader.New(r.cfg.Globals.Concurrent, pl, r.logger)
	results := pool.Run(ctx, urls)

	outcomes := make([]Outcome, 0, len(results))
	for _, res := range results {
		switch {
		case res.Err != nil:
			r.logger.WarnWithFields("failed to retrieve content", map[string]interface{}{
				"post_id": p.ID,
				"url":     res.Job.URL,
				"error":   res.Err.Error(),
			})
			outcomes = append(outcomes, Outcome{Status: StatusNotSaved, SourceURL: res.Job.URL})
		case res.Duplicate:
			outcomes = append(outcomes, Outcome{
				Status:    StatusAlreadySaved,
				SourceURL: res.Job.URL,
				LocalPath: res.Path,
				Digest:    res.Digest,
			})
		default:
			outcomes = append(outcomes, Outcome{
				Status:    StatusNewSaved,
				SourceURL: res.Job.URL,
				LocalPath: res.Path,
				Digest:    res.Digest,
			})
		}
	}
	return outcomes
}

// placement adapts the retriever to the worker pool for a single post.
type placement struct {
	retriever *Retriever
	subFolder string
}

func (pl *placement) Fetch(ctx context.Context, url string) ([]byte, error) {
	return pl.retriever.client.Download(ctx, url, pl.retriever.progressFor(url))
}

// Place computes the content digest and destination directory and performs
// the content-addressed save. The per-kind segment is only present when
// media separation is enabled, in which case the sniffed extension also
// overrides the URL-derived one.
func (pl *placement) Place(url string, data []byte) (string, string, bool, error) {
	r := pl.retriever
	digest := store.Digest(data)
	ext := ExtFromURL(url)

	dir := filepath.Join(r.resolver.Root(), pl.subFolder)
	if r.cfg.Globals.SeparateMedia {
		kind, sniffed := Classify(data)
		dir = filepath.Join(r.resolver.Root(), kind.Dir(), pl.subFolder)
		if sniffed != "" {
			ext = sniffed
		}
	}

	return pipelineSave(r.store, dir, digest, ext, data)
}

func pipelineSave(st *store.Store, dir, digest, ext string, data []byte) (string, string, bool, error) {
	path, duplicate, err := st.Save(dir, digest, ext, data)
	if err != nil {
		return "", "", false, err
	}
	return path, digest, duplicate, nil
}

// progressFor returns a progress callback that logs a debug line whenever
// another mebibyte has arrived.
func (r *Retriever) progressFor(url string) Progress {
	const step = int64(1 << 20)
	var next = step
	return func(received, total int64) {
		if received < next {
			return
		}
		next += step
		r.logger.DebugWithFields("download progress", map[string]interface{}{
			"url":      url,
			"received": received,
			"total":    total,
		})
	}
}
