package models

// Sentinel values of the timeline API's media_type field.
const (
	RawMediaImage    = 1
	RawMediaVideo    = 2
	RawMediaCarousel = 8
)

// ProductTypeClips marks reels in the raw product_type field.
const ProductTypeClips = "clips"

// TimelinePayload is one intercepted timeline API response body. Only
// payloads with a non-empty item list are retained by the capture layer.
type TimelinePayload struct {
	Items         []TimelineNode `json:"items"`
	NumResults    int            `json:"num_results"`
	MoreAvailable bool           `json:"more_available"`
	Status        string         `json:"status"`
}

// MediaCandidate is one resolution variant of an image or video.
type MediaCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ImageVersions wraps the candidate list of an image node.
type ImageVersions struct {
	Candidates []MediaCandidate `json:"candidates"`
}

// Caption carries the post text; nil on caption-less posts.
type Caption struct {
	Text string `json:"text"`
}

// NodeUser identifies the posting account inside a raw node.
type NodeUser struct {
	Username string `json:"username"`
}

// CarouselChild is one entry of a carousel node. The same shape rules apply
// per child: video children carry video_versions, image children only
// image_versions2.
type CarouselChild struct {
	ID            string           `json:"id"`
	MediaType     int              `json:"media_type"`
	ImageVersions *ImageVersions   `json:"image_versions2"`
	VideoVersions []MediaCandidate `json:"video_versions"`
}

// TimelineNode is one raw post node as delivered by the timeline API. Fields
// vary by post shape; Shape() resolves the variant explicitly so extraction
// can be exhaustive over the three forms.
type TimelineNode struct {
	ID            string           `json:"id"`
	Code          string           `json:"code"` // shortcode
	TakenAt       int64            `json:"taken_at"`
	MediaType     int              `json:"media_type"`
	ProductType   string           `json:"product_type"`
	Caption       *Caption         `json:"caption"`
	User          NodeUser         `json:"user"`
	LikeCount     int              `json:"like_count"`
	CommentCount  int              `json:"comment_count"`
	HasAudio      bool             `json:"has_audio"`
	ImageVersions *ImageVersions   `json:"image_versions2"`
	VideoVersions []MediaCandidate `json:"video_versions"`
	CarouselMedia []CarouselChild  `json:"carousel_media"`
}

// Shape returns the post type of a raw node. Clips win over the media-type
// sentinels: reels report product_type "clips" regardless of media_type.
func (n *TimelineNode) Shape() PostType {
	switch {
	case n.ProductType == ProductTypeClips || n.MediaType == RawMediaVideo:
		return PostTypeClips
	case n.MediaType == RawMediaCarousel:
		return PostTypeCarousel
	default:
		return PostTypeFeed
	}
}

// Valid reports whether the node carries the fields every post must have.
// Invalid nodes are dropped by extraction, never fatal.
func (n *TimelineNode) Valid() bool {
	return n.ID != "" && n.Code != ""
}

// BestVideo picks the highest-resolution variant by pixel area. Returns a
// zero candidate when the list is empty.
func BestVideo(versions []MediaCandidate) MediaCandidate {
	var best MediaCandidate
	for _, v := range versions {
		if v.Width*v.Height > best.Width*best.Height || best.URL == "" {
			best = v
		}
	}
	return best
}

// FirstImage returns the first image candidate, or a zero candidate.
func FirstImage(iv *ImageVersions) MediaCandidate {
	if iv == nil || len(iv.Candidates) == 0 {
		return MediaCandidate{}
	}
	return iv.Candidates[0]
}

// TimelineFeed is a live capture of timeline API responses on one tab.
// Payloads returns a snapshot of everything captured so far; Stop detaches
// the underlying listener and must always be called to avoid leaking one
// listener per scrape.
type TimelineFeed interface {
	Payloads() []TimelinePayload
	EdgeCount() int
	Stop()
}
