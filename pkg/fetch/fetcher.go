// Package fetch retrieves bytes for candidate URLs and materializes them
// into the content-addressed store.
package fetch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"

	errs "github.com/pyqlsa/redd-harvest/pkg/errors"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
)

const (
	connectTimeout = 5 * time.Second
	chunkSize      = 16 * 1024
)

// Progress reports incremental download progress; total is 0 when the
// server does not announce a content length.
type Progress func(received, total int64)

// Client performs streaming HTTP fetches with bounded timeouts.
type Client struct {
	httpClient *http.Client
	userAgent  string
	logger     logger.Logger
}

// NewClient creates a fetch client. The timeout bounds the whole
// request/response cycle; connects are bounded separately.
func NewClient(timeout time.Duration, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
		userAgent: userAgent,
		logger:    log,
	}
}

// Download streams the bytes at the given URL, reporting progress per chunk.
func (c *Client) Download(ctx context.Context, dlURL string, progress Progress) ([]byte, error) {
	resp, err := c.get(ctx, dlURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}

	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	var received int64
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if progress != nil {
				progress(received, total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errs.New(errs.ErrorTypeNetwork, 0, "failed reading response body: %v", rerr)
		}
	}

	c.logger.DebugWithFields("download complete", map[string]interface{}{
		"url":  dlURL,
		"size": received,
	})
	return buf.Bytes(), nil
}

// Page fetches the text of a page.
func (c *Client) Page(ctx context.Context, pageURL string) (string, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errs.New(errs.ErrorTypeNetwork, 0, "failed reading page body: %v", err)
	}
	return string(body), nil
}

func (c *Client) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, "failed to create request: %v", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
	}
	c.logger.DebugWithFields("http request completed", map[string]interface{}{
		"url":      reqURL,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	resp.Body.Close()
	return errs.New(errs.FromStatusCode(resp.StatusCode), resp.StatusCode,
		"unexpected status %d fetching %s", resp.StatusCode, resp.Request.URL)
}

// Kind is the payload classification derived from magic bytes.
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindVideo
)

// Dir returns the per-kind folder segment used when media separation is on.
func (k Kind) Dir() string {
	switch k {
	case KindImage:
		return "images"
	case KindVideo:
		return "videos"
	default:
		return "unknown"
	}
}

// Classify sniffs the payload kind from magic bytes rather than trusting the
// URL's apparent extension, and returns the sniffed extension when known.
func Classify(data []byte) (Kind, string) {
	kind := KindUnknown
	switch {
	case filetype.IsImage(data):
		kind = KindImage
	case filetype.IsVideo(data):
		kind = KindVideo
	}
	t, err := filetype.Match(data)
	if err != nil || t == filetype.Unknown {
		return kind, ""
	}
	return kind, normalizeExt("." + t.Extension)
}

// ExtFromURL derives a file extension from the URL path, dropping any query
// suffix and canonicalizing .jpeg to .jpg.
func ExtFromURL(dlURL string) string {
	name := dlURL
	if u, err := url.Parse(dlURL); err == nil && u.Path != "" {
		name = u.Path
	} else if i := strings.Index(name, "?"); i > 0 {
		name = name[:i]
	}
	return normalizeExt(strings.ToLower(path.Ext(path.Base(name))))
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	return ext
}
