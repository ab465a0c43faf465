// Package post defines the immutable snapshot of a reddit submission that
// flows through the harvest pipeline.
package post

import "time"

// UnknownAuthor is the sentinel used when a post's author cannot be resolved.
const UnknownAuthor = "unknown"

// Post is an immutable snapshot of a submission. Raw holds the full
// structured document from the listing API; the gallery and video extraction
// strategies pull nested sub-objects out of it.
type Post struct {
	ID        string
	Title     string
	Author    string
	Subreddit string
	URL       string
	SelfText  string
	Created   time.Time
	NSFW      bool
	Raw       map[string]interface{}
}
