package conversation

import (
	"sync"
	"time"
)

// debounce 可取消的延迟任务：新的调度会取消尚未触发的旧任务
// debounce is a cancelable delayed task. Scheduling again before the delay
// elapses cancels the pending run and re-arms the timer, so a burst of
// sends yields a single trailing refresh.
type debounce struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
}

func newDebounce(delay time.Duration, fn func()) *debounce {
	return &debounce{delay: delay, fn: fn}
}

// Schedule arms (or re-arms) the timer. fn runs on its own goroutine after
// the delay unless canceled by a later Schedule or Stop.
func (d *debounce) Schedule() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fn == nil {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debounce) setFunc(fn func()) {
	d.mu.Lock()
	d.fn = fn
	d.mu.Unlock()
}

// Stop cancels any pending run.
func (d *debounce) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
