package campaign

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/metrics"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
	"github.com/foxzi/wacampaign/internal/outbox"
)

// IntentSource lists and retires dispatch intents
type IntentSource interface {
	Stale(ctx context.Context, cutoff time.Time) ([]*outbox.Intent, error)
	Abort(ctx context.Context, id, reason string) error
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

// RecordStore is the campaign store as the reconciler sees it
type RecordStore interface {
	Store
	GetByID(ctx context.Context, id string) (*models.Campaign, error)
}

// InFlightChecker reports intents whose dispatch is still running
type InFlightChecker interface {
	InFlight(id string) bool
}

// ReconcilerConfig contains reconciler settings
type ReconcilerConfig struct {
	Interval  time.Duration
	Grace     time.Duration
	Retention time.Duration
}

// ReconcileResult summarizes one pass
type ReconcileResult struct {
	Abandoned int `json:"abandoned"`
	Settled   int `json:"settled"`
	InFlight  int `json:"in_flight"`
	Purged    int `json:"purged"`
}

// Reconciler settles dispatch intents left open by a crash or a lost commit.
// An open intent older than the grace period has an unknown gateway outcome;
// its campaign is marked failed and the intent aborted. Nothing is resent.
// Intents of dispatches still running are skipped, and an open intent whose
// campaign is already marked sent is closed without failing it.
type Reconciler struct {
	intents  IntentSource
	store    RecordStore
	inflight InFlightChecker
	notifier notify.Notifier
	cfg      ReconcilerConfig
	logger   *slog.Logger
	now      func() time.Time

	wg   sync.WaitGroup
	done chan struct{}
}

// NewReconciler creates a reconciler
func NewReconciler(intents IntentSource, store RecordStore, n notify.Notifier, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 5 * time.Minute
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Reconciler{
		intents:  intents,
		store:    store,
		notifier: n,
		cfg:      cfg,
		logger:   logger.With("component", "reconciler"),
		now:      func() time.Time { return time.Now().UTC() },
		done:     make(chan struct{}),
	}
}

// SkipInFlight makes the reconciler leave intents alone while c reports them
// in flight
func (r *Reconciler) SkipInFlight(c InFlightChecker) {
	r.inflight = c
}

// Start runs a pass immediately and then on every interval
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval,
		"grace", r.cfg.Grace,
		"retention", r.cfg.Retention,
	)
}

// Stop stops the reconciler and waits for the loop to finish
func (r *Reconciler) Stop() {
	close(r.done)
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	res, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("reconcile pass failed", "error", err)
	}
	if res.Abandoned > 0 || res.Settled > 0 || res.Purged > 0 {
		r.logger.Info("reconcile pass finished",
			"abandoned", res.Abandoned,
			"settled", res.Settled,
			"in_flight", res.InFlight,
			"purged", res.Purged,
		)
	}
}

// RunOnce performs a single pass. Failures on individual intents are logged
// and the pass continues; the returned error joins them.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var (
		res  ReconcileResult
		errs []error
	)
	now := r.now()

	stale, err := r.intents.Stale(ctx, now.Add(-r.cfg.Grace))
	if err != nil {
		return res, err
	}

	for _, in := range stale {
		if r.inflight != nil && r.inflight.InFlight(in.ID) {
			res.InFlight++
			continue
		}

		outcome, err := r.resolve(ctx, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch outcome {
		case outcomeAbandoned:
			res.Abandoned++
		case outcomeSettled:
			res.Settled++
		}
	}
	metrics.IncIntentsAbandoned(res.Abandoned)

	if r.cfg.Retention > 0 {
		purged, err := r.intents.Purge(ctx, now.Add(-r.cfg.Retention))
		if err != nil {
			errs = append(errs, err)
		}
		res.Purged = purged
	}

	return res, errors.Join(errs...)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSettled
	outcomeAbandoned
)

// resolve closes one stale intent. The intent is aborted before the campaign
// is touched so a concurrent commit wins or loses as a whole.
func (r *Reconciler) resolve(ctx context.Context, in *outbox.Intent) (outcome, error) {
	logger := r.logger.With("campaign_id", in.ID, "instance", in.Campaign.InstanceName)

	record, err := r.store.GetByID(ctx, in.ID)
	if err != nil {
		logger.Error("failed to read campaign of stale intent", "error", err)
		return outcomeSkipped, err
	}

	if record != nil && record.Status == models.CampaignSent {
		if err := r.intents.Abort(ctx, in.ID, "settled: gateway accepted"); err != nil {
			if errors.Is(err, outbox.ErrFinished) {
				return outcomeSkipped, nil
			}
			logger.Error("failed to close settled intent", "error", err)
			return outcomeSkipped, err
		}
		logger.Info("closed intent of sent campaign")
		return outcomeSettled, nil
	}

	if err := r.intents.Abort(ctx, in.ID, "abandoned: gateway outcome unknown"); err != nil {
		if errors.Is(err, outbox.ErrFinished) {
			return outcomeSkipped, nil
		}
		logger.Error("failed to abort abandoned intent", "error", err)
		return outcomeSkipped, err
	}

	if record != nil {
		err := r.store.UpdateStatus(ctx, in.ID, models.CampaignFailed)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			logger.Error("failed to mark abandoned campaign failed", "error", err)
			return outcomeSkipped, err
		}
	}

	logger.Warn("abandoned dispatch intent", "created_at", in.CreatedAt)

	n := notify.New(notify.KindIntentAbandoned, "dispatch outcome unknown, campaign marked failed")
	n.CampaignID = in.ID
	n.Instance = in.Campaign.InstanceName
	r.notifier.Notify(ctx, n)
	return outcomeAbandoned, nil
}
