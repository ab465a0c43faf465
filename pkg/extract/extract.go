// Package extract turns a post into the set of concrete download URLs it
// references, using the configured link rules.
package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
)

// PageFetcher retrieves the text of a page for regex-based scraping.
type PageFetcher interface {
	Page(ctx context.Context, url string) (string, error)
}

// Extractor resolves posts against an ordered list of link rules.
type Extractor struct {
	rules  []config.Link
	pages  PageFetcher
	logger logger.Logger
}

// New creates an Extractor over the given rules.
func New(rules []config.Link, pages PageFetcher, log logger.Logger) *Extractor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Extractor{
		rules:  rules,
		pages:  pages,
		logger: log,
	}
}

// DownloadURLs returns the download URLs for the post, or an empty set when
// no rule applies. The first rule whose base URL prefix-matches the post URL
// wins; later rules are not consulted even if that rule yields nothing.
// Within the matched rule, the cheap authoritative strategies run first and
// the first non-empty result short-circuits the rest.
func (x *Extractor) DownloadURLs(ctx context.Context, p *post.Post) []string {
	lowerURL := strings.ToLower(p.URL)
	for _, rule := range x.rules {
		if !strings.HasPrefix(lowerURL, strings.ToLower(rule.BaseURL)) {
			continue
		}
		if urls := directURLs(p.URL, rule); len(urls) > 0 {
			return urls
		}
		if urls := x.galleryURLs(p); len(urls) > 0 {
			return urls
		}
		if urls := x.videoURLs(p); len(urls) > 0 {
			return urls
		}
		return x.pageURLs(ctx, p, rule)
	}
	return nil
}

// directURLs rewrites the post URL into direct download URLs for each
// configured extension: matched as-is, or normalized from the thumbnail
// (_d.<ext>?query) and query-suffixed (.<ext>?query) variants commonly
// produced by image hosts. Each extension contributes at most one URL.
func directURLs(url string, rule config.Link) []string {
	var urls []string
	lower := strings.ToLower(url)
	for _, ext := range rule.DirectDLURLExtensions {
		ext = strings.ToLower(ext)
		if strings.HasSuffix(lower, "."+ext) {
			urls = append(urls, url)
			continue
		}
		// indexes are computed on the lowered string so case never
		// disagrees with the match above
		if regexp.MustCompile(`^.+_d\.` + regexp.QuoteMeta(ext) + `\?.*$`).MatchString(lower) {
			urls = append(urls, url[:strings.Index(lower, "_d")]+"."+ext)
			continue
		}
		if regexp.MustCompile(`^.+\.` + regexp.QuoteMeta(ext) + `\?.*$`).MatchString(lower) {
			urls = append(urls, url[:strings.Index(lower, "?")])
			continue
		}
	}
	return urls
}

// galleryURLs collects one URL per gallery item from the post's raw payload,
// recursing into the referenced original when the post is a crosspost
// wrapper. A malformed payload makes the whole sub-case contribute nothing,
// never a partial item set, so the later strategies still get their turn.
func (x *Extractor) galleryURLs(p *post.Post) []string {
	raw := p.Raw
	if raw == nil {
		return nil
	}
	if truthy(raw["is_gallery"]) {
		urls, err := mediaMetadataURLs(raw)
		if err != nil {
			x.logger.WarnWithFields("failed to read gallery items from post", map[string]interface{}{
				"post_id": p.ID,
				"url":     p.URL,
				"error":   err.Error(),
			})
			return nil
		}
		return urls
	}
	var urls []string
	for _, cross := range crossposts(raw) {
		if !truthy(cross["is_gallery"]) {
			continue
		}
		crossURLs, err := mediaMetadataURLs(cross)
		if err != nil {
			x.logger.WarnWithFields("failed to read gallery items from crosspost", map[string]interface{}{
				"post_id": p.ID,
				"url":     p.URL,
				"error":   err.Error(),
			})
			return nil
		}
		urls = append(urls, crossURLs...)
	}
	return urls
}

// videoURLs extracts the fallback playback URL when the payload hosts video,
// recursing into crosspost parents like galleryURLs does.
func (x *Extractor) videoURLs(p *post.Post) []string {
	raw := p.Raw
	if raw == nil {
		return nil
	}
	if truthy(raw["is_video"]) {
		urls, err := redditVideoURLs(raw)
		if err != nil {
			x.logger.WarnWithFields("failed to read hosted video from post", map[string]interface{}{
				"post_id": p.ID,
				"url":     p.URL,
				"error":   err.Error(),
			})
		}
		return urls
	}
	var urls []string
	for _, cross := range crossposts(raw) {
		if !truthy(cross["is_video"]) {
			continue
		}
		crossURLs, err := redditVideoURLs(cross)
		if err != nil {
			x.logger.WarnWithFields("failed to read hosted video from crosspost", map[string]interface{}{
				"post_id": p.ID,
				"url":     p.URL,
				"error":   err.Error(),
			})
			continue
		}
		urls = append(urls, crossURLs...)
	}
	return urls
}

// mediaMetadataURLs pulls the highest-quality media descriptor URL for every
// gallery item. Items are visited in sorted key order so results are stable.
func mediaMetadataURLs(raw map[string]interface{}) ([]string, error) {
	meta, ok := raw["media_metadata"].(map[string]interface{})
	if !ok {
		return nil, errMalformed("media_metadata")
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var urls []string
	for _, k := range keys {
		item, ok := meta[k].(map[string]interface{})
		if !ok {
			return urls, errMalformed("media_metadata item")
		}
		source, ok := item["s"].(map[string]interface{})
		if !ok {
			return urls, errMalformed("media_metadata source descriptor")
		}
		u, ok := source["u"].(string)
		if !ok {
			return urls, errMalformed("media_metadata source url")
		}
		urls = append(urls, strings.TrimSpace(u))
	}
	return urls, nil
}

// redditVideoURLs pulls media.reddit_video.fallback_url.
func redditVideoURLs(raw map[string]interface{}) ([]string, error) {
	media, ok := raw["media"].(map[string]interface{})
	if !ok {
		return nil, errMalformed("media")
	}
	video, ok := media["reddit_video"].(map[string]interface{})
	if !ok {
		return nil, errMalformed("media.reddit_video")
	}
	u, ok := video["fallback_url"].(string)
	if !ok {
		return nil, errMalformed("media.reddit_video.fallback_url")
	}
	return []string{strings.TrimSpace(u)}, nil
}

// crossposts returns the parent payloads when the post wraps another one.
func crossposts(raw map[string]interface{}) []map[string]interface{} {
	if raw["crosspost_parent"] == nil {
		return nil
	}
	list, ok := raw["crosspost_parent_list"].([]interface{})
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}

type malformedError string

func errMalformed(field string) error { return malformedError(field) }

func (e malformedError) Error() string {
	return "missing or malformed field: " + string(e)
}
