package instance

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSchedulerStatusSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, gw, store, _ := newTestManager()
	ctx := context.Background()
	store.Create(ctx, &models.Instance{Name: "a", Status: models.InstancePending})
	store.Create(ctx, &models.Instance{Name: "b", Status: models.InstancePending})
	gw.setStatus(gateway.StatusConnected)

	s := NewScheduler(m, config.PollingConfig{StatusInterval: 20 * time.Millisecond, QRInterval: time.Hour}, testLogger())
	s.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("a") == models.InstanceConnected && store.status("b") == models.InstanceConnected
	})

	s.Stop()

	if gw.count(gateway.CallRefreshQRCode) != 0 {
		t.Error("QR loop ran without an open pairing dialog")
	}
}

func TestSchedulerSweepSurvivesInstanceFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name   string
		failed string
		err    error
	}{
		{"gateway error", "a", &apperrors.GatewayError{Call: gateway.CallConfirmConnection, StatusCode: 502, Message: "engine down"}},
		{"unexpected response", "b", &apperrors.ParseError{Call: gateway.CallConfirmConnection, Detail: "missing status"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, gw, store, events := newTestManager()
			ctx := context.Background()
			for _, name := range []string{"a", "b", "c"} {
				store.Create(ctx, &models.Instance{Name: name, Status: models.InstancePending})
			}
			gw.setStatus(gateway.StatusConnected)
			gw.setStatusErr(tt.failed, tt.err)

			s := NewScheduler(m, config.PollingConfig{StatusInterval: 10 * time.Millisecond, QRInterval: time.Hour}, testLogger())
			s.Start(ctx)
			defer s.Stop()

			// The other instances connect in the same sweep
			waitFor(t, time.Second, func() bool {
				for _, name := range []string{"a", "b", "c"} {
					if name != tt.failed && store.status(name) != models.InstanceConnected {
						return false
					}
				}
				return true
			})
			if got := store.status(tt.failed); got != models.InstancePending {
				t.Errorf("failed instance status = %q, want pending", got)
			}

			// Later ticks keep polling the failing instance
			waitFor(t, time.Second, func() bool { return gw.confirmsFor(tt.failed) >= 3 })

			gw.setStatusErr(tt.failed, nil)
			waitFor(t, time.Second, func() bool { return store.status(tt.failed) == models.InstanceConnected })

			s.Stop()

			failures := 0
			for _, n := range events.Drain() {
				if n.Kind == notify.KindOperationFailed && n.Instance == tt.failed {
					failures++
				}
			}
			if failures == 0 {
				t.Error("no failure notification for the failing instance")
			}
		})
	}
}

func TestSchedulerQRLoopFollowsPairing(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, gw, store, _ := newTestManager()
	ctx := context.Background()
	store.Create(ctx, &models.Instance{Name: "loja", Status: models.InstancePending})

	s := NewScheduler(m, config.PollingConfig{StatusInterval: time.Hour, QRInterval: 10 * time.Millisecond}, testLogger())
	s.Start(ctx)
	defer s.Stop()

	time.Sleep(40 * time.Millisecond)
	if gw.count(gateway.CallRefreshQRCode) != 0 {
		t.Fatal("QR refreshed before pairing opened")
	}

	m.OpenPairing("loja")
	waitFor(t, time.Second, func() bool { return gw.count(gateway.CallRefreshQRCode) >= 2 })

	m.ClosePairing("loja")
	// Let any in-flight tick finish
	time.Sleep(30 * time.Millisecond)
	after := gw.count(gateway.CallRefreshQRCode)
	time.Sleep(50 * time.Millisecond)
	if got := gw.count(gateway.CallRefreshQRCode); got != after {
		t.Errorf("QR refreshed %d more times after pairing closed", got-after)
	}
}

func TestSchedulerClosesPairingWhenConnected(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, gw, _, _ := newTestManager()
	ctx := context.Background()
	if _, err := m.Create(ctx, "loja"); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(m, config.PollingConfig{StatusInterval: 20 * time.Millisecond, QRInterval: 10 * time.Millisecond}, testLogger())
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return gw.count(gateway.CallRefreshQRCode) >= 1 })

	gw.setStatus(gateway.StatusConnected)
	waitFor(t, time.Second, func() bool {
		_, open := m.Pairing()
		return !open
	})
}

func TestSchedulerSkipsBusyTick(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, gw, store, _ := newTestManager()
	ctx := context.Background()
	store.Create(ctx, &models.Instance{Name: "slow", Status: models.InstancePending})
	gw.block = make(chan struct{})

	s := NewScheduler(m, config.PollingConfig{StatusInterval: 10 * time.Millisecond, QRInterval: time.Hour}, testLogger())
	s.Start(ctx)

	// The first sweep hangs on the gateway; later ticks must not pile up
	time.Sleep(80 * time.Millisecond)
	if got := gw.count(gateway.CallConfirmConnection); got != 1 {
		t.Errorf("confirm calls = %d, want 1 while the first sweep is stuck", got)
	}

	// Stop cancels the hung call
	s.Stop()
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	m, _, _, _ := newTestManager()
	s := NewScheduler(m, config.PollingConfig{}, testLogger())
	s.Stop()

	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
