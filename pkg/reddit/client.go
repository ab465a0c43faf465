// Package reddit wraps the upstream reddit API: entity validation,
// submission listings per configured search criteria, and the raw structured
// payloads the extraction strategies operate on.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/loganintech/go-reddit/v2/reddit"
	"golang.org/x/time/rate"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
)

const infoEndpoint = "https://api.reddit.com/api/info.json"

// Limits mirrors the rate-limit counters published by the upstream API.
type Limits struct {
	Remaining int
	Used      int
	Reset     time.Time
}

// Client talks to reddit. Requests are paced by a token bucket on top of
// whatever the API itself enforces.
type Client struct {
	api       *reddit.Client
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    logger.Logger

	mu   sync.Mutex
	last Limits
}

// NewClient builds a reddit client from configured credentials. Without a
// password the client is read-only, which is enough for public listings.
func NewClient(cfg *config.Config, version string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	g := cfg.Globals
	if g.ClientID == "" || g.ClientSecret == "" {
		return nil, fmt.Errorf("client_id and client_secret are required")
	}

	userAgent := fmt.Sprintf("golang:%s:%s (by /u/%s)", g.App, version, g.Username)
	log.InfoWithFields("constructed user agent", map[string]interface{}{
		"user_agent": userAgent,
	})

	var api *reddit.Client
	var err error
	if g.Password == "" {
		log.Info("password not defined, continuing with read-only client")
		api, err = reddit.NewReadonlyClient(reddit.WithUserAgent(userAgent))
	} else {
		creds := reddit.Credentials{
			ID:       g.ClientID,
			Secret:   g.ClientSecret,
			Username: g.Username,
			Password: g.Password,
		}
		api, err = reddit.NewClient(creds, reddit.WithUserAgent(userAgent))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create reddit client: %w", err)
	}

	return &Client{
		api:       api,
		http:      &http.Client{Timeout: time.Duration(g.DownloadTimeout)},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		userAgent: userAgent,
		logger:    log,
	}, nil
}

// Validate confirms the entity exists upstream, logs its metadata, and marks
// it valid.
func (c *Client) Validate(ctx context.Context, e *config.Entity) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	switch e.Kind {
	case config.KindRedditor:
		user, resp, err := c.api.User.Get(ctx, e.Name)
		c.recordLimits(resp)
		if err != nil {
			return fmt.Errorf("failed to fetch user %q: %w", e.Name, err)
		}
		c.logger.InfoWithFields("validated redditor", map[string]interface{}{
			"name":               user.Name,
			"id":                 user.ID,
			"post_karma":         user.PostKarma,
			"has_verified_email": user.HasVerifiedEmail,
		})
	case config.KindSubreddit:
		sub, resp, err := c.api.Subreddit.Get(ctx, e.Name)
		c.recordLimits(resp)
		if err != nil {
			return fmt.Errorf("failed to fetch subreddit %q: %w", e.Name, err)
		}
		c.logger.InfoWithFields("validated subreddit", map[string]interface{}{
			"name":        sub.Name,
			"id":          sub.ID,
			"title":       sub.Title,
			"subscribers": sub.Subscribers,
			"nsfw":        sub.NSFW,
		})
	default:
		return fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	e.MarkValid()
	return nil
}

// Submissions lists the entity's posts per its search criteria and attaches
// the raw structured payload to each snapshot.
func (c *Client) Submissions(ctx context.Context, e *config.Entity) ([]*post.Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	sort := c.effectiveSort(e)
	c.logger.InfoWithFields("searching submissions", map[string]interface{}{
		"entity":      e.Name,
		"kind":        string(e.Kind),
		"sort_type":   sort,
		"sort_toggle": e.Criteria.SortToggle,
		"post_limit":  e.Criteria.PostLimit,
	})

	var (
		posts []*reddit.Post
		resp  *reddit.Response
		err   error
	)
	switch e.Kind {
	case config.KindRedditor:
		posts, resp, err = c.api.User.PostsOf(ctx, e.Name, &reddit.ListUserOverviewOptions{
			ListOptions: reddit.ListOptions{Limit: e.Criteria.PostLimit},
			Sort:        sort,
			Time:        e.Criteria.SortToggle,
		})
	case config.KindSubreddit:
		posts, resp, err = c.subredditPosts(ctx, e, sort)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", e.Kind)
	}
	c.recordLimits(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions from %q: %w", e.Name, err)
	}

	raws := c.rawPayloads(ctx, posts)

	out := make([]*post.Post, 0, len(posts))
	for _, rp := range posts {
		out = append(out, buildPost(rp, raws[rp.FullID]))
	}
	return out, nil
}

func (c *Client) subredditPosts(ctx context.Context, e *config.Entity, sort string) ([]*reddit.Post, *reddit.Response, error) {
	opts := &reddit.ListOptions{Limit: e.Criteria.PostLimit}
	switch sort {
	case config.SortHot:
		return c.api.Subreddit.HotPosts(ctx, e.Name, opts)
	case config.SortRising:
		return c.api.Subreddit.RisingPosts(ctx, e.Name, opts)
	case config.SortTop:
		return c.api.Subreddit.TopPosts(ctx, e.Name, &reddit.ListPostOptions{
			ListOptions: *opts,
			Time:        e.Criteria.SortToggle,
		})
	case config.SortControversial:
		return c.api.Subreddit.ControversialPosts(ctx, e.Name, &reddit.ListPostOptions{
			ListOptions: *opts,
			Time:        e.Criteria.SortToggle,
		})
	default:
		return c.api.Subreddit.NewPosts(ctx, e.Name, opts)
	}
}

// effectiveSort maps sorts the listing API cannot serve onto supported
// ones: stream degrades to new, and the random variants to rising.
func (c *Client) effectiveSort(e *config.Entity) string {
	sort := e.Criteria.SortType
	switch sort {
	case config.SortStream:
		c.logger.DebugWithFields("stream sort served as new listing", map[string]interface{}{
			"entity": e.Name,
		})
		return config.SortNew
	case config.SortRandom, config.SortRandomRising:
		c.logger.DebugWithFields("random sort served as rising listing", map[string]interface{}{
			"entity": e.Name,
		})
		return config.SortRising
	}
	return sort
}

// rawPayloads fetches the full structured documents for a batch of posts in
// one info call. Failure here is recoverable: extraction strategies that
// need the payload just come up empty.
func (c *Client) rawPayloads(ctx context.Context, posts []*reddit.Post) map[string]map[string]interface{} {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.FullID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		infoEndpoint+"?id="+strings.Join(ids, ","), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnWithFields("failed to fetch raw post payloads", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.WarnWithFields("unexpected status fetching raw post payloads", map[string]interface{}{
			"status": resp.StatusCode,
		})
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	var listing struct {
		Data struct {
			Children []struct {
				Data map[string]interface{} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		c.logger.WarnWithFields("failed to parse raw post payloads", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	out := make(map[string]map[string]interface{}, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if name, ok := child.Data["name"].(string); ok {
			out[name] = child.Data
		}
	}
	return out
}

// Limits returns the most recently observed rate-limit counters.
func (c *Client) Limits() Limits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Client) recordLimits(resp *reddit.Response) {
	if resp == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Limits{
		Remaining: resp.Rate.Remaining,
		Used:      resp.Rate.Used,
		Reset:     resp.Rate.Reset,
	}
}

func buildPost(rp *reddit.Post, raw map[string]interface{}) *post.Post {
	author := strings.TrimSpace(rp.Author)
	if author == "" {
		author = post.UnknownAuthor
	}
	created := time.Time{}
	if rp.Created != nil {
		created = rp.Created.Time
	}
	return &post.Post{
		ID:        rp.ID,
		Title:     rp.Title,
		Author:    author,
		Subreddit: strings.TrimSpace(rp.SubredditName),
		URL:       strings.TrimSpace(rp.URL),
		SelfText:  rp.Body,
		Created:   created,
		NSFW:      rp.NSFW,
		Raw:       raw,
	}
}
