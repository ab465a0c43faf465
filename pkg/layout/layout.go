// Package layout decides where content for a post is stored under the
// download root, and prunes folders attributable to ignored entities.
package layout

import (
	"os"
	"path/filepath"

	"github.com/pyqlsa/redd-harvest/pkg/config"
	"github.com/pyqlsa/redd-harvest/pkg/logger"
	"github.com/pyqlsa/redd-harvest/pkg/post"
)

// Resolver computes destination sub-folders from an immutable configuration
// value; it holds no mutable state.
type Resolver struct {
	cfg *config.Config
}

// NewResolver creates a Resolver over the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Root returns the configured download root.
func (r *Resolver) Root() string {
	return r.cfg.Globals.DownloadFolder
}

// SubFolder computes the sub-folder for a post harvested via the given
// entity. The entity's own store-type rule applies unless the favor-entity
// override redirects the decision to a tracked entity of the opposite kind:
// favoring redditors lets a tracked author's own convention win over the
// subreddit that surfaced the post, and vice versa.
func (r *Resolver) SubFolder(e *config.Entity, p *post.Post) string {
	folder := e.SubFolder(p.Author, p.Subreddit)

	switch {
	case r.cfg.Globals.FavorEntity == config.FavorRedditor && e.Kind == config.KindSubreddit:
		for i := range r.cfg.Redditors {
			if r.cfg.Redditors[i].Name == p.Author {
				folder = r.cfg.Redditors[i].SubFolder(p.Author, p.Subreddit)
				break
			}
		}
	case r.cfg.Globals.FavorEntity == config.FavorSubreddit && e.Kind == config.KindRedditor:
		for i := range r.cfg.Subreddits {
			if r.cfg.Subreddits[i].Name == p.Subreddit {
				folder = r.cfg.Subreddits[i].SubFolder(p.Author, p.Subreddit)
				break
			}
		}
	}
	return folder
}

// Path returns the absolute destination folder for a post, without any
// per-kind media segment.
func (r *Resolver) Path(e *config.Entity, p *post.Post) string {
	return filepath.Join(r.Root(), r.SubFolder(e, p))
}

// PruneIgnorables removes already-materialized folders reconstructible from
// a tracked-entity and ignored-entity pairing: an ignored redditor's posts
// nested under a tracked subreddit, and an ignored subreddit's posts nested
// under a tracked redditor. Per-kind media variants are covered too. This is
// best-effort cleanup of previously saved content.
func PruneIgnorables(cfg *config.Config, log logger.Logger) {
	if log == nil {
		log = logger.GetLogger()
	}
	kinds := []string{"", "images", "videos", "unknown"}

	var candidates []string
	for _, sub := range cfg.Subreddits {
		for _, igr := range cfg.IgnoredRedditors {
			for _, kind := range kinds {
				candidates = append(candidates,
					filepath.Join(cfg.Globals.DownloadFolder, kind, sub.Alias, igr.Name))
			}
		}
	}
	for _, rdtr := range cfg.Redditors {
		for _, igs := range cfg.IgnoredSubreddits {
			for _, kind := range kinds {
				candidates = append(candidates,
					filepath.Join(cfg.Globals.DownloadFolder, kind, rdtr.Alias, igs.Name))
			}
		}
	}

	for _, folder := range candidates {
		if _, err := os.Stat(folder); err != nil {
			continue
		}
		log.InfoWithFields("pruning folder for ignored entity", map[string]interface{}{
			"folder": folder,
		})
		if err := os.RemoveAll(folder); err != nil {
			log.WarnWithFields("failed to prune folder", map[string]interface{}{
				"folder": folder,
				"error":  err.Error(),
			})
		}
	}
}
