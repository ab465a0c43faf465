package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/fetch"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
	"github.com/pyqlsa/redd-harvest/pkg/reddit"
)

// mockSource serves canned submissions keyed by entity name.
type mockSource struct {
	mu          sync.Mutex
	posts       map[string][]*post.Post
	validateErr map[string]error
	noMark      map[string]bool
	validated   []string
	listed      []string
	limits      reddit.Limits
}

func (m *mockSource) Validate(ctx context.Context, e *config.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.validateErr[e.Name]; err != nil {
		return err
	}
	m.validated = append(m.validated, e.Name)
	if !m.noMark[e.Name] {
		e.MarkValid()
	}
	return nil
}

func (m *mockSource) Submissions(ctx context.Context, e *config.Entity) ([]*post.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed = append(m.listed, e.Name)
	return m.posts[e.Name], nil
}

func (m *mockSource) Limits() reddit.Limits {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limits
}

// mockRetriever records every post it is handed.
type mockRetriever struct {
	mu        sync.Mutex
	retrieved []string
	status    fetch.Status
}

func (m *mockRetriever) Retrieve(ctx context.Context, e *config.Entity, p *post.Post) []fetch.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.status
	if status == "" {
		status = fetch.StatusNewSaved
	}
	m.retrieved = append(m.retrieved, p.ID)
	return []fetch.Outcome{{Status: status, SourceURL: p.URL}}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Globals.DownloadFolder = t.TempDir()
	cfg.Globals.BackoffSleep = config.Duration(time.Millisecond)
	return cfg
}

func entity(name string, kind config.EntityKind, limit int) config.Entity {
	return config.Entity{
		Name:      name,
		Alias:     name,
		StoreType: config.StoreFlat,
		Kind:      kind,
		Criteria:  config.SearchCriteria{PostLimit: limit, SortType: config.SortNew},
	}
}

func somePosts(entityName string, n int) []*post.Post {
	posts := make([]*post.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, &post.Post{
			ID:     fmt.Sprintf("%s-%d", entityName, i),
			Author: "author",
			URL:    "https://example.com/" + entityName,
		})
	}
	return posts
}

func TestRunHarvestsAllEntities(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redditors = []config.Entity{entity("alice", config.KindRedditor, 5)}
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 5)}

	source := &mockSource{posts: map[string][]*post.Post{
		"alice": somePosts("alice", 2),
		"pics":  somePosts("pics", 1),
	}}
	retriever := &mockRetriever{}

	h := New(cfg, source, retriever, logger.NewTestLogger())
	require.NoError(t, h.Run(context.Background(), Options{}))

	// redditors come first
	assert.Equal(t, []string{"alice", "pics"}, source.validated)
	assert.Equal(t, []string{"alice-0", "alice-1", "pics-0"}, retriever.retrieved)
}

func TestRunSkipsEntityThatFailsValidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redditors = []config.Entity{
		entity("ghost", config.KindRedditor, 5),
		entity("alice", config.KindRedditor, 5),
	}

	source := &mockSource{
		posts:       map[string][]*post.Post{"alice": somePosts("alice", 1)},
		validateErr: map[string]error{"ghost": fmt.Errorf("no such user")},
	}
	retriever := &mockRetriever{}

	h := New(cfg, source, retriever, logger.NewTestLogger())
	require.NoError(t, h.Run(context.Background(), Options{}))

	assert.Equal(t, []string{"alice"}, source.listed)
	assert.Equal(t, []string{"alice-0"}, retriever.retrieved)
}

func TestRunSkipsEntityNotMarkedValid(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redditors = []config.Entity{
		entity("limbo", config.KindRedditor, 5),
		entity("alice", config.KindRedditor, 5),
	}

	// validation reports success but never confirms the entity
	source := &mockSource{
		posts:  map[string][]*post.Post{"alice": somePosts("alice", 1)},
		noMark: map[string]bool{"limbo": true},
	}
	retriever := &mockRetriever{}

	h := New(cfg, source, retriever, logger.NewTestLogger())
	require.NoError(t, h.Run(context.Background(), Options{}))

	assert.Equal(t, []string{"alice"}, source.listed)
	assert.Equal(t, []string{"alice-0"}, retriever.retrieved)
}

func TestRunKindFilters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redditors = []config.Entity{entity("alice", config.KindRedditor, 5)}
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 5)}

	source := &mockSource{posts: map[string][]*post.Post{
		"alice": somePosts("alice", 1),
		"pics":  somePosts("pics", 1),
	}}

	h := New(cfg, source, &mockRetriever{}, logger.NewTestLogger())
	require.NoError(t, h.Run(context.Background(), Options{SubredditsOnly: true}))
	assert.Equal(t, []string{"pics"}, source.validated)

	source.validated = nil
	require.NoError(t, h.Run(context.Background(), Options{RedditorsOnly: true}))
	assert.Equal(t, []string{"alice"}, source.validated)
}

func TestRunOnlyNameMatchesNameOrAlias(t *testing.T) {
	cfg := testConfig(t)
	aliased := entity("gardening", config.KindSubreddit, 5)
	aliased.Alias = "plants"
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 5), aliased}

	source := &mockSource{posts: map[string][]*post.Post{}}
	h := New(cfg, source, &mockRetriever{}, logger.NewTestLogger())

	require.NoError(t, h.Run(context.Background(), Options{OnlyName: "plants"}))
	assert.Equal(t, []string{"gardening"}, source.validated)
}

func TestRunEnforcesPostLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 2)}

	// upstream hands back more than the criteria allow
	source := &mockSource{posts: map[string][]*post.Post{"pics": somePosts("pics", 6)}}
	retriever := &mockRetriever{}

	h := New(cfg, source, retriever, logger.NewTestLogger())
	require.NoError(t, h.Run(context.Background(), Options{}))

	assert.Equal(t, []string{"pics-0", "pics-1"}, retriever.retrieved)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 5)}

	source := &mockSource{posts: map[string][]*post.Post{"pics": somePosts("pics", 3)}}
	retriever := &mockRetriever{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New(cfg, source, retriever, logger.NewTestLogger())
	err := h.Run(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, retriever.retrieved)
}

func TestRunPrunesIgnorableFolders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Globals.PruneIgnorables = true
	cfg.Subreddits = []config.Entity{entity("pics", config.KindSubreddit, 5)}
	cfg.IgnoredRedditors = []config.IgnoreEntry{{Name: "spammer"}}

	doomed := filepath.Join(cfg.Globals.DownloadFolder, "pics", "spammer")
	require.NoError(t, os.MkdirAll(doomed, 0o755))

	source := &mockSource{posts: map[string][]*post.Post{}}
	h := New(cfg, source, &mockRetriever{}, logger.NewTestLogger())

	require.NoError(t, h.Run(context.Background(), Options{SkipPrune: true}))
	assert.DirExists(t, doomed)

	require.NoError(t, h.Run(context.Background(), Options{}))
	assert.NoDirExists(t, doomed)
}

func TestBackoffWaitsForRateLimitReset(t *testing.T) {
	cfg := testConfig(t)
	cfg.Globals.BackoffSleep = config.Duration(time.Millisecond)
	cfg.Globals.RateLimitMaxWait = config.Duration(20 * time.Millisecond)

	source := &mockSource{limits: reddit.Limits{
		Remaining: 0,
		Used:      600,
		Reset:     time.Now().Add(time.Hour),
	}}
	h := New(cfg, source, &mockRetriever{}, logger.NewTestLogger())

	// the reset is far away, so the wait is capped by the configured max
	start := time.Now()
	require.NoError(t, h.backoff(context.Background()))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestBackoffAbortsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Globals.BackoffSleep = config.Duration(time.Hour)

	h := New(cfg, &mockSource{}, &mockRetriever{}, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := h.backoff(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)
}
