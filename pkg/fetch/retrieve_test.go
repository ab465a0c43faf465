package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/extract"
	"github.com/pyqlsa/redd-harvest/pkg/layout"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
	"github.com/pyqlsa/redd-harvest/pkg/store"
)

type retrieveHarness struct {
	cfg       *config.Config
	retriever *Retriever
	server    *httptest.Server
	hits      *int64
}

func newRetrieveHarness(t *testing.T, handler http.Handler) *retrieveHarness {
	t.Helper()

	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Globals.DownloadFolder = t.TempDir()
	cfg.Globals.Concurrent = 1
	cfg.Links = []config.Link{
		{BaseURL: server.URL, DirectDLURLExtensions: []string{"jpg", "png"}},
	}

	log := logger.NewTestLogger()
	client := NewClient(5*time.Second, "test-agent", log)
	retriever := NewRetriever(cfg, client, store.New(),
		layout.NewResolver(cfg), extract.New(cfg.Links, client, log), log)

	return &retrieveHarness{cfg: cfg, retriever: retriever, server: server, hits: &hits}
}

func (h *retrieveHarness) serverHits() int64 {
	return atomic.LoadInt64(h.hits)
}

func testEntity() *config.Entity {
	e := &config.Entity{
		Name:      "pics",
		Alias:     "pics",
		StoreType: config.StoreNested,
		Kind:      config.KindSubreddit,
	}
	return e
}

func TestRetrieveIgnoredAuthor(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	h.cfg.IgnoredRedditors = []config.IgnoreEntry{{Name: "spammer"}}

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p1", Author: "spammer", Subreddit: "pics",
		URL: h.server.URL + "/a.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusIgnored, outcomes[0].Status)
	// ignored posts never reach the network
	assert.Equal(t, int64(0), h.serverHits())
}

func TestRetrieveAgeRestricted(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p2", Author: "alice", Subreddit: "pics", NSFW: true,
		URL: h.server.URL + "/a.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusAgeRestricted, outcomes[0].Status)
	assert.Equal(t, int64(0), h.serverHits())
}

func TestRetrieveAllowsNSFWWhenConfigured(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nsfw bytes"))
	}))
	h.cfg.Globals.AllowNSFW = true

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p3", Author: "alice", Subreddit: "pics", NSFW: true,
		URL: h.server.URL + "/a.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusNewSaved, outcomes[0].Status)
}

func TestRetrieveNoMatchingRule(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p4", Author: "alice", Subreddit: "pics",
		URL: "https://unrecognized.example.com/a.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusNotSaved, outcomes[0].Status)
	assert.Empty(t, outcomes[0].LocalPath)
}

func TestRetrieveSavesIntoResolvedFolder(t *testing.T) {
	body := []byte("image bytes")
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p5", Author: "alice", Subreddit: "pics",
		URL: h.server.URL + "/photo.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusNewSaved, outcomes[0].Status)
	assert.Equal(t, store.Digest(body), outcomes[0].Digest)

	want := filepath.Join(h.cfg.Globals.DownloadFolder, "pics", "alice", store.Digest(body)+".jpg")
	assert.Equal(t, want, outcomes[0].LocalPath)
	assert.FileExists(t, want)
}

func TestRetrieveDeduplicatesByContent(t *testing.T) {
	body := []byte("identical bytes behind two urls")
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))

	// a gallery whose two items serve the same content
	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p6", Author: "alice", Subreddit: "pics",
		URL: h.server.URL + "/gallery/p6",
		Raw: map[string]interface{}{
			"is_gallery": true,
			"media_metadata": map[string]interface{}{
				"a": map[string]interface{}{
					"s": map[string]interface{}{"u": h.server.URL + "/a.jpg"},
				},
				"b": map[string]interface{}{
					"s": map[string]interface{}{"u": h.server.URL + "/b.jpg"},
				},
			},
		},
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, StatusNewSaved, outcomes[0].Status)
	assert.Equal(t, StatusAlreadySaved, outcomes[1].Status)
	assert.Equal(t, outcomes[0].LocalPath, outcomes[1].LocalPath)
}

func TestRetrieveSeparatesMediaBySniffedKind(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jpegHeader)
	}))
	h.cfg.Globals.SeparateMedia = true

	// served as .png, but the bytes say jpeg: the sniffed kind and
	// extension win
	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p7", Author: "alice", Subreddit: "pics",
		URL: h.server.URL + "/photo.png",
	})

	require.Len(t, outcomes, 1)
	want := filepath.Join(h.cfg.Globals.DownloadFolder, "images", "pics", "alice",
		store.Digest(jpegHeader)+".jpg")
	assert.Equal(t, want, outcomes[0].LocalPath)
	assert.FileExists(t, want)
}

func TestRetrieveFailedDownload(t *testing.T) {
	h := newRetrieveHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	outcomes := h.retriever.Retrieve(context.Background(), testEntity(), &post.Post{
		ID: "p8", Author: "alice", Subreddit: "pics",
		URL: h.server.URL + "/gone.jpg",
	})

	require.Len(t, outcomes, 1)
	assert.Equal(t, StatusNotSaved, outcomes[0].Status)
	assert.Empty(t, outcomes[0].LocalPath)
}
