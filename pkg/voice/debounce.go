package voice

import (
	"sync"
	"time"
)

// DefaultDictationDebounce is how long dictation waits after the last
// transcript fragment before auto-submitting the accumulated text.
const DefaultDictationDebounce = 800 * time.Millisecond

// debouncer fires fn once after delay, restarting the countdown on every
// Trigger. Stop cancels any pending fire.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	fn    func()
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
