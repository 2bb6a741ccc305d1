package browser

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// Reaper periodically scans OS processes for defunct or oversized browser
// processes and force-kills them. Best effort only; every failure is
// swallowed. It exists because a crashed session can leave zombie renderers
// behind that the pool no longer knows about.
type Reaper struct {
	interval time.Duration
	maxRSS   int64
	stop     chan struct{}
	started  bool
}

// browserProcessNames marks processes the reaper is allowed to touch.
var browserProcessNames = []string{"chrome", "chromium", "headless_shell"}

// NewReaper builds a reaper. maxRSS <= 0 disables the memory check.
func NewReaper(interval time.Duration, maxRSS int64) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{
		interval: interval,
		maxRSS:   maxRSS,
		stop:     make(chan struct{}),
	}
}

// Start launches the background scan loop. Safe to call once.
func (r *Reaper) Start() {
	if r.started {
		return
	}
	r.started = true
	go r.loop()
}

// Stop terminates the scan loop. The pool calls it exactly once on shutdown.
func (r *Reaper) Stop() {
	if !r.started {
		return
	}
	close(r.stop)
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep kills zombie browser processes and, when a memory cap is set,
// browser processes above it.
func (r *Reaper) sweep() {
	procs, err := process.Processes()
	if err != nil {
		log.Debug().Err(err).Msg("reaper: process list unavailable")
		return
	}

	killed := 0
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !isBrowserProcess(name) {
			continue
		}

		status, err := p.Status()
		if err == nil && zombieStatus(status) {
			if err := p.Kill(); err == nil {
				killed++
				log.Warn().Int32("pid", p.Pid).Str("name", name).Msg("reaper: killed zombie browser process")
			}
			continue
		}

		if r.maxRSS > 0 {
			mem, err := p.MemoryInfo()
			if err == nil && mem != nil && int64(mem.RSS) > r.maxRSS {
				if err := p.Kill(); err == nil {
					killed++
					log.Warn().
						Int32("pid", p.Pid).
						Str("name", name).
						Uint64("rss", mem.RSS).
						Msg("reaper: killed oversized browser process")
				}
			}
		}
	}

	if killed > 0 {
		log.Info().Int("killed", killed).Msg("reaper sweep done")
	}
}

func isBrowserProcess(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range browserProcessNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// zombieStatus interprets the status slice returned by gopsutil v3; the
// process state is its first element.
func zombieStatus(status []string) bool {
	return len(status) > 0 && isZombie(status[0])
}

func isZombie(status string) bool {
	s := strings.ToLower(status)
	return s == "z" || strings.Contains(s, "zombie")
}
