package browser

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleWatcher signals once no request has been in flight for idleAfter.
// Requests are tracked by id so redirects, which reuse the id, count once.
type idleWatcher struct {
	idleAfter time.Duration

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	timer    *time.Timer
	done     chan struct{}
	once     sync.Once
}

func newIdleWatcher(idleAfter time.Duration) *idleWatcher {
	return &idleWatcher{
		idleAfter: idleAfter,
		inflight:  make(map[network.RequestID]struct{}),
		done:      make(chan struct{}),
	}
}

// handle is registered with chromedp.ListenTarget and must not block.
func (w *idleWatcher) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		w.mu.Lock()
		w.inflight[e.RequestID] = struct{}{}
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	case *network.EventLoadingFinished:
		w.finish(e.RequestID)
	case *network.EventLoadingFailed:
		w.finish(e.RequestID)
	}
}

func (w *idleWatcher) finish(id network.RequestID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inflight, id)
	if len(w.inflight) == 0 {
		w.armLocked()
	}
}

// arm starts the quiet-period timer if nothing is in flight.
func (w *idleWatcher) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.inflight) == 0 {
		w.armLocked()
	}
}

func (w *idleWatcher) armLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.idleAfter, func() {
		w.mu.Lock()
		quiet := len(w.inflight) == 0
		w.mu.Unlock()
		if quiet {
			w.once.Do(func() { close(w.done) })
		}
	})
}

func (w *idleWatcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Done is closed when the network has settled.
func (w *idleWatcher) Done() <-chan struct{} { return w.done }
