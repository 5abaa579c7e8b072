package checkout

import (
	"sync"
	"time"
)

// timerSet owns every timer a session schedules so the lifecycle code can stop
// them all at once. A callback whose timer was stopped never runs.
type timerSet struct {
	mu     sync.Mutex
	seq    uint64
	cancel map[uint64]func()
}

func newTimerSet() *timerSet {
	return &timerSet{cancel: make(map[uint64]func())}
}

// after runs fn once, d from now, unless stopAll is called first.
func (ts *timerSet) after(d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id := ts.seq
	ts.seq++
	timer := time.AfterFunc(d, func() {
		if ts.release(id) {
			fn()
		}
	})
	ts.cancel[id] = func() { timer.Stop() }
}

// every runs fn each d until stopAll is called.
func (ts *timerSet) every(d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	id := ts.seq
	ts.seq++
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	ts.cancel[id] = func() {
		ticker.Stop()
		close(done)
	}
}

func (ts *timerSet) release(id uint64) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.cancel[id]
	delete(ts.cancel, id)
	return ok
}

func (ts *timerSet) stopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, stop := range ts.cancel {
		stop()
		delete(ts.cancel, id)
	}
}

func (ts *timerSet) active() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.cancel)
}
