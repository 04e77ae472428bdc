// Package freq holds the process-wide tick interval that every producer
// reads once per cycle and any subscriber session may overwrite.
package freq

import (
	"sync/atomic"
	"time"

	"streamex.com/pkg/metrics"
)

const (
	MinMs     int64 = 10
	MaxMs     int64 = 1000
	DefaultMs int64 = 50
)

// Clamp bounds v to [MinMs, MaxMs].
func Clamp(v int64) int64 {
	return min(max(v, MinMs), MaxMs)
}

// Control is safe for concurrent use. Last write wins.
type Control struct {
	ms atomic.Int64
}

func New(initialMs int64) *Control {
	c := &Control{}
	c.Write(initialMs)
	return c
}

// Read returns the current interval in milliseconds.
func (c *Control) Read() int64 { return c.ms.Load() }

// Write clamps v, stores it and returns the stored value.
func (c *Control) Write(v int64) int64 {
	v = Clamp(v)
	c.ms.Store(v)
	metrics.FrequencyMs.Set(float64(v))
	return v
}

// Cadence derives a producer's sleep from the shared interval.
// Fixed, when set, ignores the control entirely.
type Cadence struct {
	Mult    int64
	FloorMs int64
	Fixed   time.Duration
}

func (cd Cadence) Interval(c *Control) time.Duration {
	if cd.Fixed > 0 {
		return cd.Fixed
	}
	mult := max(cd.Mult, 1)
	return time.Duration(max(c.Read()*mult, cd.FloorMs)) * time.Millisecond
}
