package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pyqlsa/redd-harvest/pkg/logger"
)

// Global configuration defaults.
const (
	DefaultApp              = "redd-harvest"
	DefaultUsername         = "unknown"
	DefaultPostLimit        = 5
	DefaultRateLimitMaxWait = 120 * time.Second
	DefaultBackoffSleep     = 100 * time.Millisecond
	DefaultDownloadTimeout  = 30 * time.Second
	DefaultConcurrent       = 3
)

// Favor settings decide which entity category's path convention wins when a
// post is reachable via both a tracked redditor and a tracked subreddit.
const (
	FavorRedditor  = "redditor"
	FavorSubreddit = "subreddit"
	FavorDisabled  = "disabled"
)

var allFavorSettings = map[string]bool{
	FavorRedditor: true, FavorSubreddit: true, FavorDisabled: true,
}

// Globals holds run-wide settings.
type Globals struct {
	App              string        `yaml:"app"`
	Username         string        `yaml:"username"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	Password         string        `yaml:"password"`
	PostLimit        int      `yaml:"post_limit"`
	RateLimitMaxWait Duration `yaml:"rate_limit_max_wait"`
	BackoffSleep     Duration `yaml:"backoff_sleep"`
	DownloadFolder   string   `yaml:"download_folder"`
	DownloadTimeout  Duration `yaml:"download_timeout"`
	Concurrent       int           `yaml:"concurrent_downloads"`
	SeparateMedia    bool          `yaml:"separate_media"`
	AllowNSFW        bool          `yaml:"allow_nsfw"`
	PruneIgnorables  bool          `yaml:"prune_ignorables"`
	FavorEntity      string        `yaml:"favor_entity"`
}

// SubSearch pairs an optional expected extension with a regular expression
// used to extract a download URL from fetched page markup.
type SubSearch struct {
	PageSearchRegex string `yaml:"page_search_regex"`
	Extension       string `yaml:"extension"`
}

// Link is a configured rule describing which base URLs are recognized and
// how to extract real media URLs from them.
type Link struct {
	BaseURL               string      `yaml:"base_url"`
	DirectDLURLExtensions []string    `yaml:"direct_dl_url_extensions"`
	SubSearches           []SubSearch `yaml:"sub_searches"`
}

// Config is the full parsed configuration for a run. It is loaded once and
// shared read-only afterwards.
type Config struct {
	Globals           Globals       `yaml:"globals"`
	Logging           logger.Config `yaml:"logging"`
	Redditors         []Entity      `yaml:"redditors"`
	Subreddits        []Entity      `yaml:"subreddits"`
	IgnoredRedditors  []IgnoreEntry `yaml:"ignored_redditors"`
	IgnoredSubreddits []IgnoreEntry `yaml:"ignored_subreddits"`
	Links             []Link        `yaml:"links"`
}

// Default returns a Config with defaults applied.
func Default() *Config {
	return &Config{
		Globals: Globals{
			App:              DefaultApp,
			Username:         DefaultUsername,
			PostLimit:        DefaultPostLimit,
			RateLimitMaxWait: Duration(DefaultRateLimitMaxWait),
			BackoffSleep:     Duration(DefaultBackoffSleep),
			DownloadFolder:   filepath.Join("~", ".redd-harvest", "data"),
			DownloadTimeout:  Duration(DefaultDownloadTimeout),
			Concurrent:       DefaultConcurrent,
			FavorEntity:      FavorRedditor,
		},
		Logging: logger.Config{Level: "info"},
	}
}

// Load reads configuration from the given YAML file, applies environment
// overrides, defaults and enum fallbacks, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := expandUser(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.loadFromEnv()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadFromEnv overrides credentials and a few settings from the environment.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("REDD_HARVEST_CLIENT_ID"); v != "" {
		c.Globals.ClientID = v
	}
	if v := os.Getenv("REDD_HARVEST_CLIENT_SECRET"); v != "" {
		c.Globals.ClientSecret = v
	}
	if v := os.Getenv("REDD_HARVEST_USERNAME"); v != "" {
		c.Globals.Username = v
	}
	if v := os.Getenv("REDD_HARVEST_PASSWORD"); v != "" {
		c.Globals.Password = v
	}
	if v := os.Getenv("REDD_HARVEST_DOWNLOAD_FOLDER"); v != "" {
		c.Globals.DownloadFolder = v
	}
	if v := os.Getenv("REDD_HARVEST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// normalize applies defaults and silently replaces unsupported enum values;
// an unsupported value is never a hard failure.
func (c *Config) normalize() {
	g := &c.Globals
	if g.App == "" {
		g.App = DefaultApp
	}
	if g.Username == "" {
		g.Username = DefaultUsername
	}
	if g.PostLimit <= 0 {
		g.PostLimit = DefaultPostLimit
	}
	if g.RateLimitMaxWait <= 0 {
		g.RateLimitMaxWait = Duration(DefaultRateLimitMaxWait)
	}
	if g.BackoffSleep <= 0 {
		g.BackoffSleep = Duration(DefaultBackoffSleep)
	}
	if g.DownloadTimeout <= 0 {
		g.DownloadTimeout = Duration(DefaultDownloadTimeout)
	}
	if g.Concurrent <= 0 {
		g.Concurrent = DefaultConcurrent
	}
	if expanded, err := expandUser(g.DownloadFolder); err == nil {
		g.DownloadFolder = expanded
	}
	if !allFavorSettings[strings.ToLower(g.FavorEntity)] {
		g.FavorEntity = FavorRedditor
	} else {
		g.FavorEntity = strings.ToLower(g.FavorEntity)
	}

	for i := range c.Redditors {
		c.Redditors[i].normalize(KindRedditor, g.PostLimit)
	}
	for i := range c.Subreddits {
		c.Subreddits[i].normalize(KindSubreddit, g.PostLimit)
	}

	for i := range c.IgnoredRedditors {
		c.IgnoredRedditors[i].Name = strings.TrimSpace(c.IgnoredRedditors[i].Name)
	}
	for i := range c.IgnoredSubreddits {
		c.IgnoredSubreddits[i].Name = strings.TrimSpace(c.IgnoredSubreddits[i].Name)
	}

	// only retain sub searches with a non-empty pattern
	for i := range c.Links {
		kept := c.Links[i].SubSearches[:0]
		for _, ss := range c.Links[i].SubSearches {
			if ss.PageSearchRegex != "" {
				kept = append(kept, ss)
			}
		}
		c.Links[i].SubSearches = kept
	}
}

// Validate checks structural requirements that defaulting cannot repair.
func (c *Config) Validate() error {
	if c.Globals.DownloadFolder == "" {
		return fmt.Errorf("download_folder is required")
	}
	for _, l := range c.Links {
		if l.BaseURL == "" {
			return fmt.Errorf("link rule with empty base_url")
		}
	}
	for _, e := range c.Redditors {
		if e.Name == "" {
			return fmt.Errorf("redditor with empty name")
		}
	}
	for _, e := range c.Subreddits {
		if e.Name == "" {
			return fmt.Errorf("subreddit with empty name")
		}
	}
	return nil
}

// Entities returns tracked entities that are not named by an ignore entry,
// redditors first, in configured order.
func (c *Config) Entities() []*Entity {
	var out []*Entity
	for i := range c.Redditors {
		if !nameIgnored(c.Redditors[i].Name, c.IgnoredRedditors) {
			out = append(out, &c.Redditors[i])
		}
	}
	for i := range c.Subreddits {
		if !nameIgnored(c.Subreddits[i].Name, c.IgnoredSubreddits) {
			out = append(out, &c.Subreddits[i])
		}
	}
	return out
}

// ShouldIgnore reports whether a post with the given author and subreddit
// name is excluded by the ignore lists.
func (c *Config) ShouldIgnore(author, subreddit string) bool {
	return nameIgnored(author, c.IgnoredRedditors) ||
		nameIgnored(subreddit, c.IgnoredSubreddits)
}

func nameIgnored(name string, entries []IgnoreEntry) bool {
	for _, e := range entries {
		if e.Name == strings.TrimSpace(name) {
			return true
		}
	}
	return false
}

// expandUser resolves a leading ~ to the user's home directory and returns
// an absolute path.
func expandUser(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~"+string(os.PathSeparator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
