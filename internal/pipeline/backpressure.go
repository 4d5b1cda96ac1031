package pipeline

import "math"

// minFreeFactor is the share of max_size a forced flush drains the buffer to.
const minFreeFactor = 0.5

// backpressure decides when the merge buffer must be flushed regardless of
// the event-time window.
type backpressure struct {
	maxSize int64
}

// full reports whether merging one more record must wait for a forced flush.
func (b backpressure) full(bytes int64) bool { return bytes >= b.maxSize }

// over reports whether the main-loop flush pass has to be forced.
func (b backpressure) over(bytes int64) bool { return bytes > b.maxSize }

// retain returns how many buffered bytes a flush pass may leave behind while
// ignoring the time window.
func (b backpressure) retain(forced bool) int64 {
	if !forced {
		return math.MaxInt64
	}
	return int64(float64(b.maxSize) * minFreeFactor)
}
