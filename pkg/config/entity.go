package config

import (
	"path"
	"strings"
)

// EntityKind discriminates the two tracked entity variants. There are
// exactly two and they will not grow.
type EntityKind string

const (
	KindRedditor  EntityKind = "redditor"
	KindSubreddit EntityKind = "subreddit"
)

// Submission sort modes.
const (
	SortHot           = "hot"
	SortNew           = "new"
	SortTop           = "top"
	SortControversial = "controversial"
	SortStream        = "stream"
	SortRising        = "rising"
	SortRandom        = "random"
	SortRandomRising  = "random_rising"
)

// Time window toggles, applicable only to top/controversial sorts.
const (
	ToggleHour  = "hour"
	ToggleDay   = "day"
	ToggleWeek  = "week"
	ToggleMonth = "month"
	ToggleYear  = "year"
	ToggleAll   = "all"
)

// Store types control sub-folder depth under the download root.
const (
	StoreNested     = "nested"
	StoreFlat       = "flat"
	StoreReallyFlat = "really-flat"
)

var allSorts = map[string]bool{
	SortHot: true, SortNew: true, SortTop: true, SortControversial: true,
	SortStream: true, SortRising: true, SortRandom: true, SortRandomRising: true,
}

// Not all sort modes apply to a redditor's submission feed.
var redditorSorts = map[string]bool{
	SortHot: true, SortNew: true, SortTop: true, SortControversial: true,
	SortStream: true,
}

var allToggles = map[string]bool{
	ToggleHour: true, ToggleDay: true, ToggleWeek: true,
	ToggleMonth: true, ToggleYear: true, ToggleAll: true,
}

var allStoreTypes = map[string]bool{
	StoreNested: true, StoreFlat: true, StoreReallyFlat: true,
}

// SearchCriteria describes how submissions are listed for an entity.
type SearchCriteria struct {
	PostLimit  int    `yaml:"post_limit"`
	SortType   string `yaml:"sort_type"`
	SortToggle string `yaml:"sort_toggle"`
}

// Entity is a tracked redditor or subreddit. Entities are built from
// configuration at startup and are not mutated afterwards, except for the
// valid flag set after a successful round-trip against reddit.
type Entity struct {
	Name      string         `yaml:"name"`
	Alias     string         `yaml:"alias"`
	StoreType string         `yaml:"store_type"`
	Criteria  SearchCriteria `yaml:"search_criteria"`

	Kind EntityKind `yaml:"-"`

	valid bool
}

// normalize applies defaults and silently replaces unsupported enum values.
// Enum values are case-insensitive.
func (e *Entity) normalize(kind EntityKind, defaultLimit int) {
	e.Kind = kind
	if e.Alias == "" {
		e.Alias = e.Name
	}
	e.StoreType = strings.ToLower(e.StoreType)
	e.Criteria.SortType = strings.ToLower(e.Criteria.SortType)
	e.Criteria.SortToggle = strings.ToLower(e.Criteria.SortToggle)
	if !allStoreTypes[e.StoreType] {
		// redditors default to flat, subreddits to nested
		if kind == KindRedditor {
			e.StoreType = StoreFlat
		} else {
			e.StoreType = StoreNested
		}
	}
	if e.Criteria.PostLimit <= 0 {
		e.Criteria.PostLimit = defaultLimit
	}
	if !allSorts[e.Criteria.SortType] {
		e.Criteria.SortType = SortNew
	}
	if kind == KindRedditor && !redditorSorts[e.Criteria.SortType] {
		e.Criteria.SortType = SortNew
	}
	if e.Criteria.SortType == SortTop || e.Criteria.SortType == SortControversial {
		if !allToggles[e.Criteria.SortToggle] {
			e.Criteria.SortToggle = ToggleWeek
		}
	} else {
		e.Criteria.SortToggle = ""
	}
}

// MarkValid records a successful round-trip confirmation against reddit.
func (e *Entity) MarkValid() {
	e.valid = true
}

// IsValid reports whether the entity has been confirmed against reddit.
func (e *Entity) IsValid() bool {
	return e.valid
}

// SubFolder computes the entity's own storage sub-folder for a post with the
// given author and subreddit name. The counterpart of a redditor is the
// subreddit the post appeared in; the counterpart of a subreddit is the
// post's author.
func (e *Entity) SubFolder(author, subreddit string) string {
	if e.StoreType == StoreReallyFlat {
		return ""
	}
	counterpart := author
	if e.Kind == KindRedditor {
		counterpart = subreddit
	}
	if e.StoreType == StoreFlat {
		return e.Alias
	}
	return path.Join(e.Alias, counterpart)
}

// IgnoreEntry names a redditor or subreddit excluded from harvesting.
type IgnoreEntry struct {
	Name string `yaml:"name"`
}
