package payments

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/stockhaul/stockhaul/internal/logging"
)

// Timer runs the periodic auto-release sweep in the background.
type Timer struct {
	service  *Service
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a sweep timer. Interval defaults to 2 minutes.
func NewTimer(service *Service, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Timer{
		service:  service,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins the sweep loop. Returns immediately; sweeps run in a
// goroutine until Stop.
func (t *Timer) Start(ctx context.Context) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	go t.loop(ctx)
	logging.L(ctx).Info("auto-release timer started", "interval", t.interval.String())
}

// Stop halts the sweep loop. Idempotent.
func (t *Timer) Stop() {
	if t.running.CompareAndSwap(true, false) {
		close(t.stop)
	}
}

func (t *Timer) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *Timer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("auto-release sweep panicked", "panic", r)
		}
	}()

	released, err := t.service.ReleaseDue(ctx)
	if err != nil {
		logging.L(ctx).Error("auto-release sweep failed", "error", err)
		return
	}
	if len(released) > 0 {
		logging.L(ctx).Info("auto-release sweep completed", "released", len(released))
	}
}
