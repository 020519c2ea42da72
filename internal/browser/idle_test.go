package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func waitDone(w *idleWatcher, d time.Duration) bool {
	select {
	case <-w.Done():
		return true
	case <-time.After(d):
		return false
	}
}

func TestIdleWatcher_SettlesAfterRequestsFinish(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(20 * time.Millisecond)

	w.handle(&network.EventRequestWillBeSent{RequestID: "a"})
	w.handle(&network.EventRequestWillBeSent{RequestID: "b"})
	w.handle(&network.EventLoadingFinished{RequestID: "a"})

	if waitDone(w, 60*time.Millisecond) {
		t.Fatal("should not settle while a request is in flight")
	}

	w.handle(&network.EventLoadingFailed{RequestID: "b"})
	if !waitDone(w, time.Second) {
		t.Fatal("expected idle after last request finished")
	}
}

func TestIdleWatcher_RedirectCountsOnce(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(10 * time.Millisecond)

	w.handle(&network.EventRequestWillBeSent{RequestID: "doc"})
	w.handle(&network.EventRequestWillBeSent{RequestID: "doc"})
	w.handle(&network.EventLoadingFinished{RequestID: "doc"})

	if !waitDone(w, time.Second) {
		t.Fatal("redirected request should be tracked once")
	}
}

func TestIdleWatcher_ArmWithNothingInFlight(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(10 * time.Millisecond)
	w.arm()
	if !waitDone(w, time.Second) {
		t.Fatal("expected idle when no request was ever seen")
	}
}

func TestIdleWatcher_NewRequestResetsTimer(t *testing.T) {
	t.Parallel()
	w := newIdleWatcher(50 * time.Millisecond)
	w.arm()
	w.handle(&network.EventRequestWillBeSent{RequestID: "late"})

	if waitDone(w, 100*time.Millisecond) {
		t.Fatal("a new request should cancel the pending idle signal")
	}
	w.handle(&network.EventLoadingFinished{RequestID: "late"})
	if !waitDone(w, time.Second) {
		t.Fatal("expected idle after late request finished")
	}
}

func TestA4Margins(t *testing.T) {
	t.Parallel()
	o := A4(20)
	if o.PaperWidth != 8.27 || o.PaperHeight != 11.69 || !o.PrintBackground {
		t.Fatalf("unexpected A4 options %+v", o)
	}
	if o.MarginTop < 0.2 || o.MarginTop > 0.21 {
		t.Errorf("20px should be ~0.208in, got %f", o.MarginTop)
	}
}
