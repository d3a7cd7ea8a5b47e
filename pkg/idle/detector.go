// Package idle tracks output quiescence of a supervised child.
package idle

import (
	"sync"
	"time"

	"github.com/Veraticus/ctlproc/pkg/interfaces"
	"github.com/Veraticus/ctlproc/pkg/stream"
)

// OutputDetector tracks activity based on the characters a child writes.
type OutputDetector struct {
	mu           sync.RWMutex
	lastActivity time.Time
	now          func() time.Time
}

// Ensure OutputDetector implements interfaces.ActivityDetector
var _ interfaces.ActivityDetector = (*OutputDetector)(nil)

// NewOutputDetector creates a detector whose last activity is now.
func NewOutputDetector() *OutputDetector {
	return &OutputDetector{
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

// Observe records a character event as activity. It has the signature of a
// supervisor char handler.
func (d *OutputDetector) Observe(stream.CharEvent) {
	d.UpdateActivity()
}

// IsIdle returns true if no output has been seen within threshold.
func (d *OutputDetector) IsIdle(threshold time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.now().Sub(d.lastActivity) >= threshold
}

// LastActivity returns the last time output was seen.
func (d *OutputDetector) LastActivity() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.lastActivity
}

// UpdateActivity updates the last activity time to now.
func (d *OutputDetector) UpdateActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastActivity = d.now()
}

// UpdateActivityTime sets the last activity time to t.
func (d *OutputDetector) UpdateActivityTime(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastActivity = t
}
