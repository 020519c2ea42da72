package app

import (
	"context"
	"testing"
	"time"

	"github.com/alouette-a11y/alouette/internal/model"
)

func TestApplication_WorkersDeliverQueuedReports(t *testing.T) {
	t.Parallel()
	deps, h := testDeps(t, samplePages())
	cfg := testConfig()

	a, err := NewApplication(cfg, nil, h.logger, deps)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	h.orch = a.Orch
	if err := a.StartWorkers(); err != nil {
		t.Fatalf("StartWorkers: %v", err)
	}

	scan := h.paidScan(t)

	deadline := time.Now().Add(10 * time.Second)
	for {
		if got := h.scan(t, scan.ID); got.Status == model.ScanDelivered && h.queue.InFlight() == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan not delivered in time, status %s", h.scan(t, scan.ID).Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.mail.SentCount() != 1 {
		t.Errorf("sent %d emails, want 1", h.mail.SentCount())
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue should be drained, %d pending", h.queue.Len())
	}
}

func TestApplication_ShutdownWithoutWorkers(t *testing.T) {
	t.Parallel()
	deps, h := testDeps(t, samplePages())
	a, err := NewApplication(testConfig(), nil, h.logger, deps)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !h.logger.Logged("application shutdown initiated") {
		t.Error("shutdown should be logged")
	}
}
