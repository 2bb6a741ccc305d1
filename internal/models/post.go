package models

import "time"

// PostType classifies an extracted post by the shape of its raw node.
type PostType string

const (
	PostTypeFeed     PostType = "feed"     // single image
	PostTypeClips    PostType = "clips"    // reels / single video
	PostTypeCarousel PostType = "carousel" // multi-media album
)

// MediaType classifies one media entry inside a post.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Media is one downloadable asset belonging to a post.
type Media struct {
	URL    string    `json:"url"`
	Type   MediaType `json:"type"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

// OriginalData keeps the raw classification fields of the source node so
// consumers can re-derive decisions without the full payload.
type OriginalData struct {
	ProductType string `json:"product_type"`
	MediaType   int    `json:"media_type"`
	HasAudio    bool   `json:"has_audio"`
}

// Post is the canonical extracted record. Immutable once built; uniqueness
// key is ID.
type Post struct {
	ID           string       `json:"id"`
	Shortcode    string       `json:"shortcode"`
	Text         string       `json:"text"`
	CreatedAt    int64        `json:"created_at"` // unix seconds
	Type         PostType     `json:"type"`
	Username     string       `json:"username"`
	Media        []Media      `json:"media"`
	Likes        int          `json:"likes"`
	Comments     int          `json:"comments"`
	Permalink    string       `json:"permalink"`
	OriginalData OriginalData `json:"original_data"`
}

// TakenAt returns the post creation time.
func (p *Post) TakenAt() time.Time {
	return time.Unix(p.CreatedAt, 0)
}

// ScrapeOutcome is the unit returned for one target and cached at the
// request boundary.
type ScrapeOutcome struct {
	Success         bool      `json:"success"`
	Username        string    `json:"username"`
	Posts           []Post    `json:"posts"`
	ScrapedWith     string    `json:"scraped_with"` // account username used
	ScrapedAt       time.Time `json:"scraped_at"`
	GraphQLCaptured bool      `json:"graphql_captured"` // any timeline payload ever seen
	Error           string    `json:"error,omitempty"`
}

// BatchOutcome aggregates per-target outcomes of one batch request. Per-target
// success flags are preserved even when the batch is only partially successful.
type BatchOutcome struct {
	Outcomes  []ScrapeOutcome `json:"outcomes"`
	Requested int             `json:"requested"`
	Succeeded int             `json:"succeeded"`
}
