package instance

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/metrics"
)

// Loop names used in logs and metrics
const (
	LoopStatus = "status"
	LoopQR     = "qr"
)

// Scheduler drives the two polling loops. The status loop checks every stored
// instance one after another; the QR loop refreshes the QR code of the
// instance whose pairing dialog is open and only runs while it is open. The
// loops share no timers. A tick that fires while the previous iteration of
// the same loop is still running is skipped.
type Scheduler struct {
	manager        *Manager
	statusInterval time.Duration
	qrInterval     time.Duration
	logger         *slog.Logger

	statusBusy atomic.Bool
	qrBusy     atomic.Bool

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	qrCancel context.CancelFunc
	qrTarget string
	stopped  bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for m
func NewScheduler(m *Manager, cfg config.PollingConfig, logger *slog.Logger) *Scheduler {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = 30 * time.Second
	}
	if cfg.QRInterval <= 0 {
		cfg.QRInterval = 20 * time.Second
	}

	s := &Scheduler{
		manager:        m,
		statusInterval: cfg.StatusInterval,
		qrInterval:     cfg.QRInterval,
		logger:         logger.With("component", "scheduler"),
	}
	m.OnPairing(s.onPairing)
	return s
}

// Start runs a status sweep immediately and then on every status interval
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopped = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.statusLoop()

	if name, ok := s.manager.Pairing(); ok {
		s.onPairing(name, true)
	}

	s.logger.Info("scheduler started",
		"status_interval", s.statusInterval,
		"qr_interval", s.qrInterval,
	)
}

// Stop cancels both loops and any in-flight iteration and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) statusLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	s.tick(s.ctx, &s.statusBusy, LoopStatus, s.sweep)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.ctx, &s.statusBusy, LoopStatus, s.sweep)
		}
	}
}

func (s *Scheduler) qrLoop(ctx context.Context, name string) {
	defer s.wg.Done()

	logger := s.logger.With("instance", name)
	logger.Debug("qr loop started")

	ticker := time.NewTicker(s.qrInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("qr loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx, &s.qrBusy, LoopQR, func(ctx context.Context) {
				s.manager.refreshQR(ctx, name, SourceQRTick)
			})
		}
	}
}

// tick runs fn in its own goroutine unless the previous iteration of the
// loop is still running
func (s *Scheduler) tick(ctx context.Context, busy *atomic.Bool, loop string, fn func(ctx context.Context)) {
	if !busy.CompareAndSwap(false, true) {
		metrics.IncPollSkipped(loop)
		s.logger.Debug("previous iteration still running, skipping tick", "loop", loop)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer busy.Store(false)
		fn(ctx)
	}()
}

// sweep checks every stored instance, one at a time
func (s *Scheduler) sweep(ctx context.Context) {
	list, err := s.manager.Instances(ctx)
	if err != nil {
		s.logger.Error("failed to list instances", "error", err)
		return
	}

	for _, inst := range list {
		if ctx.Err() != nil {
			return
		}
		// Failures are reported by the manager; the sweep moves on
		s.manager.checkStatus(ctx, inst.Name, SourceStatusTick)
	}
}

func (s *Scheduler) onPairing(name string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil || s.stopped {
		return
	}

	if !open {
		if s.qrTarget == name && s.qrCancel != nil {
			s.qrCancel()
			s.qrCancel = nil
			s.qrTarget = ""
		}
		return
	}

	if s.qrTarget == name && s.qrCancel != nil {
		return
	}
	if s.qrCancel != nil {
		s.qrCancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.qrCancel = cancel
	s.qrTarget = name

	s.wg.Add(1)
	go s.qrLoop(ctx, name)
}
