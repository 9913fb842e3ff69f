package recorder

import (
	"sort"
	"sync"

	"tracksync/internal/platform"
	"tracksync/internal/types"
)

// ActivityCounter accumulates input and foreground-app usage for the current slot
type ActivityCounter struct {
	mu            sync.Mutex
	keyboard      int64
	mouse         int64
	activeSeconds int64
	apps          map[string]int64
}

// Snapshot is a drained slot
type Snapshot struct {
	Keyboard      int64
	Mouse         int64
	ActiveSeconds int64
	Activities    []types.Activity
}

func NewActivityCounter() *ActivityCounter {
	return &ActivityCounter{apps: make(map[string]int64)}
}

// AddKeyboard is fed by an input hook
func (c *ActivityCounter) AddKeyboard(n int64) {
	c.mu.Lock()
	c.keyboard += n
	c.mu.Unlock()
}

// AddMouse is fed by an input hook
func (c *ActivityCounter) AddMouse(n int64) {
	c.mu.Lock()
	c.mouse += n
	c.mu.Unlock()
}

// Sample records seconds spent in app; active marks seconds with user input
func (c *ActivityCounter) Sample(app *platform.AppInfo, seconds int64, active bool) {
	if seconds <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if active {
		c.activeSeconds += seconds
	}
	if app != nil && app.Name != "" {
		c.apps[app.Name] += seconds
	}
}

// Drain returns the accumulated counters and starts a new slot.
// Activities are sorted by duration, longest first.
func (c *ActivityCounter) Drain() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Keyboard:      c.keyboard,
		Mouse:         c.mouse,
		ActiveSeconds: c.activeSeconds,
		Activities:    make([]types.Activity, 0, len(c.apps)),
	}
	for name, d := range c.apps {
		snap.Activities = append(snap.Activities, types.Activity{Title: name, Duration: d})
	}
	sort.Slice(snap.Activities, func(i, j int) bool {
		if snap.Activities[i].Duration == snap.Activities[j].Duration {
			return snap.Activities[i].Title < snap.Activities[j].Title
		}
		return snap.Activities[i].Duration > snap.Activities[j].Duration
	})

	c.keyboard, c.mouse, c.activeSeconds = 0, 0, 0
	c.apps = make(map[string]int64)
	return snap
}

// Empty reports whether nothing was recorded since the last drain
func (s Snapshot) Empty() bool {
	return s.Keyboard == 0 && s.Mouse == 0 && s.ActiveSeconds == 0 && len(s.Activities) == 0
}
