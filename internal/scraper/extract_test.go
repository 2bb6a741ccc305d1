package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igharvest/internal/config"
	"igharvest/internal/models"
)

func extractorForTest(staleLimit int) *Orchestrator {
	return &Orchestrator{
		cfg:         config.ScrapeConfig{DefaultLimit: 12, StaleScrollLimit: staleLimit},
		pause:       func(min, max time.Duration) {},
		scrollDelta: func(min, max int) int { return min },
	}
}

func TestExtractDedupesAcrossPayloads(t *testing.T) {
	o := extractorForTest(5)

	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{
		payload(node("a", 100), node("b", 200)),
		payload(node("b", 200), node("c", 300)),
	}

	posts, captured, err := o.extractPosts(page, "target", 10)
	require.NoError(t, err)
	assert.True(t, captured)
	require.Len(t, posts, 3)

	seen := make(map[string]int)
	for _, p := range posts {
		seen[p.ID]++
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %s must appear exactly once", id)
	}
}

func TestExtractSortsNewestFirstThenTruncates(t *testing.T) {
	o := extractorForTest(5)

	// Arrival order is deliberately not chronological.
	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{
		payload(node("a", 300), node("b", 100), node("c", 500), node("d", 200), node("e", 400)),
	}

	posts, _, err := o.extractPosts(page, "target", 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)

	// The limit keeps the three newest, not the first three captured.
	assert.Equal(t, []string{"c", "e", "a"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
	assert.True(t, posts[0].CreatedAt >= posts[1].CreatedAt)
	assert.True(t, posts[1].CreatedAt >= posts[2].CreatedAt)
}

func TestExtractLimitWithDuplicateEdges(t *testing.T) {
	o := extractorForTest(5)

	// First payload arrives with the reload, the second with the scroll and
	// re-fetches an overlapping window: 3 new ids plus 2 already seen.
	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{payload(node("a", 100), node("b", 200))}
	page.onScroll = []models.TimelinePayload{
		payload(node("c", 300), node("d", 400), node("e", 500), node("a", 100), node("b", 200)),
	}

	posts, captured, err := o.extractPosts(page, "target", 3)
	require.NoError(t, err)
	assert.True(t, captured)
	require.Len(t, posts, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{posts[0].ID, posts[1].ID, posts[2].ID})
}

func TestExtractStopsAfterStaleScrolls(t *testing.T) {
	const staleLimit = 5
	o := extractorForTest(staleLimit)

	// Two posts, limit ten, nothing more ever arrives: the loop must give up
	// after staleLimit scrolls with no new edges.
	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{payload(node("a", 100), node("b", 200))}

	posts, captured, err := o.extractPosts(page, "target", 10)
	require.NoError(t, err)
	assert.True(t, captured)
	assert.Len(t, posts, 2)
	assert.Equal(t, staleLimit, page.scrolls)
}

func TestExtractSkipsScrollWhenLimitAlreadyMet(t *testing.T) {
	o := extractorForTest(5)

	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{
		payload(node("a", 100), node("b", 200), node("c", 300)),
	}

	posts, _, err := o.extractPosts(page, "target", 3)
	require.NoError(t, err)
	assert.Len(t, posts, 3)
	assert.Equal(t, 0, page.scrolls, "initial payload meets the limit, no scrolling needed")
}

func TestExtractNothingCaptured(t *testing.T) {
	o := extractorForTest(2)

	page := newFakePage(ProfileURL("target"))

	posts, captured, err := o.extractPosts(page, "target", 5)
	require.NoError(t, err)
	assert.False(t, captured, "no payload means captured=false")
	assert.Empty(t, posts)
}

func TestExtractSkipsInvalidNodes(t *testing.T) {
	o := extractorForTest(5)

	missingCode := node("x", 400)
	missingCode.Code = ""
	missingID := node("", 500)

	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{payload(node("a", 100), missingCode, missingID)}

	posts, _, err := o.extractPosts(page, "target", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "a", posts[0].ID)
}

func TestExtractStopsFeedListener(t *testing.T) {
	o := extractorForTest(5)

	page := newFakePage(ProfileURL("target"))
	page.onReload = []models.TimelinePayload{payload(node("a", 100))}

	_, _, err := o.extractPosts(page, "target", 1)
	require.NoError(t, err)
	assert.True(t, page.feed.stopped, "extraction must detach the response listener")
}

func TestBuildPostShapes(t *testing.T) {
	clip := node("v", 100)
	clip.ProductType = models.ProductTypeClips
	clip.MediaType = models.RawMediaVideo
	clip.HasAudio = true
	clip.VideoVersions = []models.MediaCandidate{
		{URL: "low.mp4", Width: 480, Height: 852},
		{URL: "high.mp4", Width: 1080, Height: 1920},
	}

	post := buildPost(&clip, "target")
	assert.Equal(t, models.PostTypeClips, post.Type)
	require.Len(t, post.Media, 1)
	assert.Equal(t, "high.mp4", post.Media[0].URL)
	assert.Equal(t, models.MediaVideo, post.Media[0].Type)
	assert.True(t, post.OriginalData.HasAudio)
	assert.Equal(t, "https://www.instagram.com/p/cv/", post.Permalink)

	carousel := node("car", 200)
	carousel.MediaType = models.RawMediaCarousel
	carousel.CarouselMedia = []models.CarouselChild{
		{MediaType: models.RawMediaImage, ImageVersions: &models.ImageVersions{
			Candidates: []models.MediaCandidate{{URL: "img1.jpg", Width: 1080, Height: 1080}},
		}},
		{MediaType: models.RawMediaVideo, VideoVersions: []models.MediaCandidate{
			{URL: "vid1.mp4", Width: 720, Height: 1280},
		}},
	}

	post = buildPost(&carousel, "target")
	assert.Equal(t, models.PostTypeCarousel, post.Type)
	require.Len(t, post.Media, 2)
	assert.Equal(t, models.MediaImage, post.Media[0].Type)
	assert.Equal(t, models.MediaVideo, post.Media[1].Type)
}

func TestFilterSince(t *testing.T) {
	posts := []models.Post{
		{ID: "old", CreatedAt: 1000},
		{ID: "new", CreatedAt: 5000},
	}

	filtered := filterSince(posts, time.Unix(2000, 0))
	require.Len(t, filtered, 1)
	assert.Equal(t, "new", filtered[0].ID)

	assert.Len(t, filterSince(posts, time.Time{}), 2, "zero threshold keeps everything")
}
