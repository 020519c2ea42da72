package testutil

import (
	"context"
	"sync"

	"github.com/wneessen/go-mail"
)

// ─── Mail ──────────────────────────────────────────────────────────────

// DummyMailTransport implements mailer.Transport and records sent messages.
type DummyMailTransport struct {
	VerifyErr error
	SendErr   error

	mu       sync.Mutex
	Verifies int
	Sent     []*mail.Msg
}

func (d *DummyMailTransport) Verify(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Verifies++
	return d.VerifyErr
}

func (d *DummyMailTransport) Send(_ context.Context, msg *mail.Msg) error {
	if d.SendErr != nil {
		return d.SendErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sent = append(d.Sent, msg)
	return nil
}

// SentCount returns how many messages were sent.
func (d *DummyMailTransport) SentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Sent)
}
