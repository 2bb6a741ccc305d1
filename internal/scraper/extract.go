package scraper

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"igharvest/internal/models"
)

// extractPosts runs the capture-and-scroll algorithm on an already-open
// profile page: observe timeline responses, reload so the initial fetch is
// captured, scroll until the limit is reached or the feed goes stale, then
// flatten, dedupe, normalize, sort newest-first and truncate.
//
// The bool result reports whether any timeline payload was ever captured; an
// empty-but-captured result is a legitimate "no posts" outcome.
func (o *Orchestrator) extractPosts(page ProfilePage, username string, limit int) ([]models.Post, bool, error) {
	feed, err := page.ObserveTimeline()
	if err != nil {
		return nil, false, fmt.Errorf("observe timeline: %w", err)
	}
	defer feed.Stop()

	// Reload, not navigate: the observer is already attached, so the page's
	// initial timeline fetch flows through it.
	if err := page.Reload(); err != nil {
		return nil, false, fmt.Errorf("reload profile: %w", err)
	}
	o.pause(1500*time.Millisecond, 3*time.Second)

	// Progressive scroll. No hard iteration bound: the loop ends on reaching
	// the limit or after staleScrollLimit consecutive scrolls with no new
	// data (end of feed).
	stale := 0
	prev := -1
	for {
		count := feed.EdgeCount()
		if count >= limit {
			break
		}
		if count == prev {
			stale++
			if stale >= o.cfg.StaleScrollLimit {
				log.Debug().
					Str("target", username).
					Int("captured", count).
					Msg("feed stale, stopping scroll")
				break
			}
		} else {
			stale = 0
			prev = count
		}

		if err := page.ScrollDown(o.scrollDelta(400, 1000)); err != nil {
			// A failed scroll on a live page is transient; the stale counter
			// terminates the loop if it persists.
			log.Debug().Err(err).Msg("scroll failed")
		}
		o.pause(700*time.Millisecond, 2*time.Second)
	}

	// Trailing responses may still be in flight after the last scroll.
	o.pause(o.cfg.ResponseSettle, o.cfg.ResponseSettle+500*time.Millisecond)

	payloads := feed.Payloads()
	posts := normalizePosts(payloads, username)

	// Newest first, and only then truncated, so the limit keeps the most
	// recent posts rather than scroll-arrival order.
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt > posts[j].CreatedAt
	})
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}

	return posts, len(payloads) > 0, nil
}

// normalizePosts flattens captured payloads into Posts, skipping nodes whose
// id was already seen (scrolling re-fetches overlapping windows) and nodes
// missing required fields.
func normalizePosts(payloads []models.TimelinePayload, username string) []models.Post {
	seen := make(map[string]struct{})
	var posts []models.Post
	for _, payload := range payloads {
		for i := range payload.Items {
			node := &payload.Items[i]
			if !node.Valid() {
				continue
			}
			if _, dup := seen[node.ID]; dup {
				continue
			}
			seen[node.ID] = struct{}{}
			posts = append(posts, buildPost(node, username))
		}
	}
	return posts
}

// buildPost normalizes one raw node, exhaustive over the three node shapes.
func buildPost(node *models.TimelineNode, username string) models.Post {
	shape := node.Shape()

	var media []models.Media
	switch shape {
	case models.PostTypeCarousel:
		for _, child := range node.CarouselMedia {
			if child.MediaType == models.RawMediaVideo {
				if v := models.BestVideo(child.VideoVersions); v.URL != "" {
					media = append(media, models.Media{URL: v.URL, Type: models.MediaVideo, Width: v.Width, Height: v.Height})
				}
			} else if img := models.FirstImage(child.ImageVersions); img.URL != "" {
				media = append(media, models.Media{URL: img.URL, Type: models.MediaImage, Width: img.Width, Height: img.Height})
			}
		}
	case models.PostTypeClips:
		if v := models.BestVideo(node.VideoVersions); v.URL != "" {
			media = append(media, models.Media{URL: v.URL, Type: models.MediaVideo, Width: v.Width, Height: v.Height})
		}
	default:
		if img := models.FirstImage(node.ImageVersions); img.URL != "" {
			media = append(media, models.Media{URL: img.URL, Type: models.MediaImage, Width: img.Width, Height: img.Height})
		}
	}

	text := ""
	if node.Caption != nil {
		text = node.Caption.Text
	}
	owner := node.User.Username
	if owner == "" {
		owner = username
	}

	return models.Post{
		ID:        node.ID,
		Shortcode: node.Code,
		Text:      text,
		CreatedAt: node.TakenAt,
		Type:      shape,
		Username:  owner,
		Media:     media,
		Likes:     node.LikeCount,
		Comments:  node.CommentCount,
		Permalink: fmt.Sprintf("https://www.instagram.com/p/%s/", node.Code),
		OriginalData: models.OriginalData{
			ProductType: node.ProductType,
			MediaType:   node.MediaType,
			HasAudio:    node.HasAudio,
		},
	}
}

// filterSince drops posts older than the threshold. A zero threshold keeps
// everything.
func filterSince(posts []models.Post, since time.Time) []models.Post {
	if since.IsZero() {
		return posts
	}
	filtered := posts[:0:0]
	for _, p := range posts {
		if !p.TakenAt().Before(since) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
