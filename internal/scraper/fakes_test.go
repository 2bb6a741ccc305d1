package scraper

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"igharvest/internal/accounts"
	"igharvest/internal/config"
	"igharvest/internal/models"
)

// fakeFeed is an in-memory TimelineFeed fed by the fake page.
type fakeFeed struct {
	mu       sync.Mutex
	payloads []models.TimelinePayload
	stopped  bool
}

func (f *fakeFeed) Payloads() []models.TimelinePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TimelinePayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func (f *fakeFeed) EdgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.payloads {
		n += len(p.Items)
	}
	return n
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeFeed) deliver(p models.TimelinePayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
}

// fakePage simulates a profile tab: onReload payloads arrive with the page
// reload, onScroll payloads arrive one per scroll, mimicking progressive
// feed loading.
type fakePage struct {
	mu       sync.Mutex
	feed     *fakeFeed
	onReload []models.TimelinePayload
	onScroll []models.TimelinePayload
	title    string
	url      string
	private  bool
	scrolls  int
	closed   bool
}

func newFakePage(url string) *fakePage {
	return &fakePage{feed: &fakeFeed{}, url: url, title: "Profile"}
}

func (p *fakePage) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, payload := range p.onReload {
		p.feed.deliver(payload)
	}
	p.onReload = nil
	return nil
}

func (p *fakePage) ObserveTimeline() (models.TimelineFeed, error) {
	return p.feed, nil
}

func (p *fakePage) ScrollDown(px int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls++
	if len(p.onScroll) > 0 {
		p.feed.deliver(p.onScroll[0])
		p.onScroll = p.onScroll[1:]
	}
	return nil
}

func (p *fakePage) Title() string   { return p.title }
func (p *fakePage) URL() string     { return p.url }
func (p *fakePage) IsPrivate() bool { return p.private }

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeSessionPool routes OpenProfile calls through a per-test open func and
// records acquire/release traffic.
type fakeSessionPool struct {
	mu       sync.Mutex
	open     func(key, target string) (ProfilePage, error)
	acquires []string
	releases []string
	opens    map[string]int // "key/target" -> count
}

func newFakeSessionPool(open func(key, target string) (ProfilePage, error)) *fakeSessionPool {
	return &fakeSessionPool{open: open, opens: make(map[string]int)}
}

func (f *fakeSessionPool) Acquire(ctx context.Context, key string) (Session, error) {
	f.mu.Lock()
	f.acquires = append(f.acquires, key)
	f.mu.Unlock()
	return &fakeSession{pool: f, key: key}, nil
}

func (f *fakeSessionPool) Release(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, key)
}

func (f *fakeSessionPool) openCount(key, target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[key+"/"+target]
}

type fakeSession struct {
	pool *fakeSessionPool
	key  string
}

func (s *fakeSession) OpenProfile(ctx context.Context, url string) (ProfilePage, error) {
	target := targetFromURL(url)
	s.pool.mu.Lock()
	s.pool.opens[s.key+"/"+target]++
	s.pool.mu.Unlock()
	return s.pool.open(s.key, target)
}

func targetFromURL(url string) string {
	trimmed := strings.TrimSuffix(url, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

// fakeRepairer records repair requests.
type fakeRepairer struct {
	mu       sync.Mutex
	repaired []string
}

func (r *fakeRepairer) Repair(ctx context.Context, account *models.Account, sessionKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repaired = append(r.repaired, account.Username)
	return nil
}

func (r *fakeRepairer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.repaired)
}

// node builds a minimal valid timeline node.
func node(id string, takenAt int64) models.TimelineNode {
	return models.TimelineNode{
		ID:      id,
		Code:    "c" + id,
		TakenAt: takenAt,
		User:    models.NodeUser{Username: "someone"},
		ImageVersions: &models.ImageVersions{
			Candidates: []models.MediaCandidate{{URL: "https://cdn.example/" + id + ".jpg", Width: 1080, Height: 1080}},
		},
		MediaType: models.RawMediaImage,
	}
}

func payload(nodes ...models.TimelineNode) models.TimelinePayload {
	return models.TimelinePayload{Items: nodes, NumResults: len(nodes), Status: "ok"}
}

// newTestOrchestrator wires an orchestrator with a real file-backed ledger,
// no-op pacing and the given fakes.
func newTestOrchestrator(t *testing.T, pool SessionPool, repair Repairer, usernames ...string) (*Orchestrator, *accounts.Ledger) {
	t.Helper()
	dir := t.TempDir()
	accs := make([]models.Account, len(usernames))
	for i, u := range usernames {
		accs[i] = models.Account{Username: u, Password: "pw"}
	}
	ledger, err := accounts.NewLedger(accs, filepath.Join(dir, "rotation.json"), filepath.Join(dir, "sessions"))
	require.NoError(t, err)

	o := New(ledger, pool, repair, config.ScrapeConfig{
		DefaultLimit:     12,
		StaleScrollLimit: 5,
		BatchWindow:      2,
		BatchMaxTargets:  5,
	})
	o.pause = func(min, max time.Duration) {}
	o.scrollDelta = func(min, max int) int { return min }
	return o, ledger
}

// successPage returns a page delivering count posts on reload, ids prefixed
// so they stay unique per target.
func successPage(target string, count int) *fakePage {
	page := newFakePage(ProfileURL(target))
	nodes := make([]models.TimelineNode, count)
	for i := 0; i < count; i++ {
		nodes[i] = node(fmt.Sprintf("%s-%d", target, i), int64(1700000000+i))
	}
	page.onReload = []models.TimelinePayload{payload(nodes...)}
	return page
}
