package extract

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/post"
)

// pageURLs fetches the post URL as a page and runs the rule's sub searches
// against its text. A sub search with an expected extension only runs when
// the post URL carries that extension. All regex matches are considered and
// the first structurally valid absolute URL wins per sub search; results are
// de-duplicated by exact URL across sub searches.
func (x *Extractor) pageURLs(ctx context.Context, p *post.Post, rule config.Link) []string {
	if len(rule.SubSearches) == 0 || x.pages == nil {
		return nil
	}
	page, err := x.pages.Page(ctx, p.URL)
	if err != nil {
		x.logger.WarnWithFields("failed to fetch page for scraping", map[string]interface{}{
			"post_id": p.ID,
			"url":     p.URL,
			"error":   err.Error(),
		})
		return nil
	}

	lowerURL := strings.ToLower(p.URL)
	var urls []string
	for _, ss := range rule.SubSearches {
		if ss.Extension != "" &&
			!strings.HasSuffix(lowerURL, "."+strings.ToLower(ss.Extension)) {
			continue
		}
		dlURL := x.urlFromPage(page, ss, p)
		if dlURL != "" && !contains(urls, dlURL) {
			urls = append(urls, dlURL)
		}
	}
	return urls
}

// urlFromPage applies one sub search to the fetched page text. A pattern
// that fails to compile, or that yields no structurally valid match, simply
// contributes nothing.
func (x *Extractor) urlFromPage(page string, ss config.SubSearch, p *post.Post) string {
	re, err := regexp.Compile(ss.PageSearchRegex)
	if err != nil {
		x.logger.WarnWithFields("invalid page search regex", map[string]interface{}{
			"post_id": p.ID,
			"url":     p.URL,
			"regex":   ss.PageSearchRegex,
			"error":   err.Error(),
		})
		return ""
	}
	for _, match := range re.FindAllStringSubmatch(page, -1) {
		candidate := match[0]
		// a pattern with a capture group means the group holds the URL
		if len(match) > 1 && match[1] != "" {
			candidate = match[1]
		}
		if validURL(candidate) {
			return strings.ReplaceAll(candidate, "&amp;", "&")
		}
		x.logger.DebugWithFields("matched page content is not a valid url", map[string]interface{}{
			"post_id": p.ID,
			"match":   candidate,
		})
	}
	return ""
}

// validURL reports whether s is a well-formed absolute URL with a scheme,
// host and path.
func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != "" && u.Path != ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
