package browser

import (
	"math/rand"
	"time"
)

// Pacing helpers. These keep input timing inside human-scale jitter; they
// carry no state and no invariants of their own.

// Pause sleeps a random duration in [min, max).
func Pause(min, max time.Duration) {
	if max <= min {
		time.Sleep(min)
		return
	}
	time.Sleep(min + time.Duration(rand.Int63n(int64(max-min))))
}

// ScrollDelta returns a randomized scroll distance in [min, max).
func ScrollDelta(min, max int) int {
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min)
}
