// Package downloader runs per-post candidate URL downloads on a bounded
// worker pool. Parallelism is an optimization only: results are returned in
// submission order and the content-addressed store keeps dedup safe.
package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/pyqlsa/redd-harvest/pkg/logger"
)

// Job is a single candidate URL to materialize.
type Job struct {
	Index int
	URL   string
}

// Result is the outcome of one job.
type Result struct {
	Job       Job
	Path      string
	Digest    string
	Duplicate bool
	Size      int
	Duration  time.Duration
	Err       error
}

// Pipeline fetches bytes for a URL and places them on disk. Place must be
// safe to call from multiple workers.
type Pipeline interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	Place(url string, data []byte) (path string, digest string, duplicate bool, err error)
}

// Pool manages concurrent download workers.
type Pool struct {
	workers  int
	pipeline Pipeline
	logger   logger.Logger
}

// New creates a download worker pool.
func New(workers int, pipeline Pipeline, log logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Pool{
		workers:  workers,
		pipeline: pipeline,
		logger:   log,
	}
}

// Run processes all URLs and returns one result per URL, in input order. A
// failed job never aborts its siblings; cancellation is observed between
// jobs, not mid-fetch.
func (p *Pool) Run(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	jobs := make(chan Job)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for job := range jobs {
				results[job.Index] = p.process(ctx, job, id)
			}
		}(i)
	}

	for i, u := range urls {
		select {
		case jobs <- Job{Index: i, URL: u}:
		case <-ctx.Done():
			results[i] = Result{Job: Job{Index: i, URL: u}, Err: ctx.Err()}
		}
	}
	close(jobs)
	wg.Wait()

	return results
}

func (p *Pool) process(ctx context.Context, job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	p.logger.DebugWithFields("worker processing job", map[string]interface{}{
		"worker_id": workerID,
		"url":       job.URL,
	})

	data, err := p.pipeline.Fetch(ctx, job.URL)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		p.logger.WarnWithFields("worker failed to fetch url", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
			"error":     err.Error(),
		})
		return result
	}
	result.Size = len(data)

	path, digest, duplicate, err := p.pipeline.Place(job.URL, data)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		p.logger.WarnWithFields("worker failed to place download", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
			"error":     err.Error(),
		})
		return result
	}

	result.Path = path
	result.Digest = digest
	result.Duplicate = duplicate
	result.Duration = time.Since(start)

	p.logger.DebugWithFields("worker completed job", map[string]interface{}{
		"worker_id": workerID,
		"url":       job.URL,
		"size":      result.Size,
		"duplicate": duplicate,
		"duration":  result.Duration,
	})
	return result
}
