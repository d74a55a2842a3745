package image

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// TransferTiming accumulates the wall-clock duration of each chunk write
// during a transfer, so a caller (the CLI's progress reporting) can surface
// a mean/stddev once the transfer completes rather than just a raw total.
type TransferTiming struct {
	mu        sync.Mutex
	durations stats.Float64Data
}

// Observe records one chunk's transfer duration.
func (t *TransferTiming) Observe(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations = append(t.durations, float64(d)/float64(time.Millisecond))
}

// Summary reports the mean and population standard deviation of the
// recorded chunk durations, in milliseconds. It returns zero values if no
// chunks were observed.
func (t *TransferTiming) Summary() (meanMS, stddevMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.durations) == 0 {
		return 0, 0
	}
	mean, _ := t.durations.Mean()
	stddev, _ := t.durations.StandardDeviation()
	return mean, stddev
}
