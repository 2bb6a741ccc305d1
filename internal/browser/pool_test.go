package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igharvest/internal/config"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := NewPool(config.BrowserConfig{
		SessionRoot:    t.TempDir(),
		NavTimeout:     time.Second,
		ReaperInterval: time.Hour,
	})
	t.Cleanup(p.Shutdown)
	return p
}

func TestAcquireConcurrentCollapsesToOneLaunch(t *testing.T) {
	p := newTestPool(t)

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		atomic.AddInt32(&launches, 1)
		time.Sleep(50 * time.Millisecond) // keep the launch in flight
		return nil, nil
	}

	const callers = 8
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := p.Acquire(context.Background(), "acct")
			require.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&launches), "concurrent acquires must share one launch")
	for _, sess := range sessions {
		assert.Same(t, sessions[0], sess, "every caller must receive the same session")
	}
	assert.Equal(t, 1, p.LiveCount())
}

func TestAcquireReusesLiveSession(t *testing.T) {
	p := newTestPool(t)

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		atomic.AddInt32(&launches, 1)
		return nil, nil
	}

	first, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	second, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&launches))
}

func TestAcquireDistinctKeysLaunchSeparately(t *testing.T) {
	p := newTestPool(t)

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		atomic.AddInt32(&launches, 1)
		return nil, nil
	}

	_, err := p.Acquire(context.Background(), "one")
	require.NoError(t, err)
	_, err = p.Acquire(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&launches))
	assert.Equal(t, 2, p.LiveCount())
}

func TestAcquireLaunchFailurePropagatesAndRetries(t *testing.T) {
	p := newTestPool(t)

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		if atomic.AddInt32(&launches, 1) == 1 {
			return nil, fmt.Errorf("no executable")
		}
		return nil, nil
	}

	_, err := p.Acquire(context.Background(), "acct")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLaunchFailed))
	assert.Equal(t, 0, p.LiveCount(), "failed launch must not leave a live entry")

	// A failed launch does not poison the key.
	_, err = p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, 1, p.LiveCount())
}

func TestReleaseRemovesSession(t *testing.T) {
	p := newTestPool(t)

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		atomic.AddInt32(&launches, 1)
		return nil, nil
	}

	_, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	p.Release("acct")
	assert.Equal(t, 0, p.LiveCount())

	// Releasing an unknown key is a no-op.
	p.Release("acct")

	_, err = p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&launches))
}

func TestShutdownClosesPoolIdempotently(t *testing.T) {
	p := NewPool(config.BrowserConfig{
		SessionRoot:    t.TempDir(),
		ReaperInterval: time.Hour,
	})
	p.launch = func(key string) (*rod.Browser, error) { return nil, nil }

	_, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	p.Shutdown()
	p.Shutdown() // must be safe to call twice

	assert.Equal(t, 0, p.LiveCount())
	_, err = p.Acquire(context.Background(), "acct")
	assert.True(t, errors.Is(err, ErrPoolClosed))
}

func TestWatcherRemovesDeadSession(t *testing.T) {
	p := newTestPool(t)
	p.probeInterval = 10 * time.Millisecond

	var alive int32 = 1
	p.probe = func(sess *Session) bool { return atomic.LoadInt32(&alive) == 1 }

	var launches int32
	p.launch = func(key string) (*rod.Browser, error) {
		atomic.AddInt32(&launches, 1)
		return nil, nil
	}

	first, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	require.Equal(t, 1, p.LiveCount())

	// The browser dies behind the pool's back; the watcher must notice and
	// drop the live entry without anyone calling Acquire.
	atomic.StoreInt32(&alive, 0)
	assert.Eventually(t, func() bool { return p.LiveCount() == 0 },
		time.Second, 5*time.Millisecond)

	// The next Acquire relaunches instead of handing out the dead session.
	atomic.StoreInt32(&alive, 1)
	second, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), atomic.LoadInt32(&launches))
}

func TestAcquireClearsStaleProfileLocks(t *testing.T) {
	root := t.TempDir()
	p := NewPool(config.BrowserConfig{
		SessionRoot:    root,
		ReaperInterval: time.Hour,
	})
	t.Cleanup(p.Shutdown)
	p.launch = func(key string) (*rod.Browser, error) { return nil, nil }

	profile := filepath.Join(root, "acct")
	require.NoError(t, os.MkdirAll(profile, 0755))
	for _, name := range staleLockFiles {
		require.NoError(t, os.WriteFile(filepath.Join(profile, name), []byte("stale"), 0644))
	}

	_, err := p.Acquire(context.Background(), "acct")
	require.NoError(t, err)

	for _, name := range staleLockFiles {
		_, err := os.Stat(filepath.Join(profile, name))
		assert.True(t, os.IsNotExist(err), "%s must be removed before launch", name)
	}
}
