package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/metrics"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
	"github.com/foxzi/wacampaign/internal/outbox"
)

// Gateway accepts campaigns for delivery
type Gateway interface {
	DispatchCampaign(ctx context.Context, payload *gateway.CampaignPayload) error
}

// Store persists campaign records
type Store interface {
	Create(ctx context.Context, c *models.Campaign) error
	UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error
}

// Outbox records dispatch intents
type Outbox interface {
	Put(ctx context.Context, in *outbox.Intent) error
	Commit(ctx context.Context, id string) error
	Abort(ctx context.Context, id, reason string) error
}

// Refresher is told when a dispatch succeeded so views built on the campaign
// list can be recomputed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Leg names the side of a dispatch that failed
type Leg string

const (
	LegGateway Leg = "gateway"
	LegStore   Leg = "store"
	LegBoth    Leg = "both"
	LegOutbox  Leg = "outbox"
)

// DispatchError reports which leg of a dispatch failed. Nothing is rolled
// back: in concurrent mode a store record may exist for a campaign the gateway
// rejected and the other way round.
type DispatchError struct {
	Leg        Leg
	CampaignID string
	Gateway    error
	Store      error
	Outbox     error
}

func (e *DispatchError) Error() string {
	var parts []string
	if e.Outbox != nil {
		parts = append(parts, e.Outbox.Error())
	}
	if e.Gateway != nil {
		parts = append(parts, e.Gateway.Error())
	}
	if e.Store != nil {
		parts = append(parts, e.Store.Error())
	}
	return fmt.Sprintf("dispatch failed on %s leg: %s", e.Leg, strings.Join(parts, "; "))
}

func (e *DispatchError) Unwrap() []error {
	var errs []error
	for _, err := range []error{e.Gateway, e.Store, e.Outbox} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func newDispatchError(id string, gwErr, storeErr error) *DispatchError {
	e := &DispatchError{CampaignID: id, Gateway: gwErr, Store: storeErr}
	switch {
	case gwErr != nil && storeErr != nil:
		e.Leg = LegBoth
	case gwErr != nil:
		e.Leg = LegGateway
	default:
		e.Leg = LegStore
	}
	return e
}

// Dispatcher runs the dual write of a validated campaign
type Dispatcher struct {
	gateway   Gateway
	store     Store
	outbox    Outbox
	refresher Refresher
	notifier  notify.Notifier
	logger    *slog.Logger
	mode      string
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithOutbox enables intent mode backed by o
func WithOutbox(o Outbox) Option {
	return func(d *Dispatcher) { d.outbox = o }
}

// WithMode selects config.DispatchIntent or config.DispatchConcurrent
func WithMode(mode string) Option {
	return func(d *Dispatcher) { d.mode = mode }
}

// WithRefresher sets the post-success refresh hook
func WithRefresher(r Refresher) Option {
	return func(d *Dispatcher) { d.refresher = r }
}

// WithNotifier sets where dispatch outcomes are reported
func WithNotifier(n notify.Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// NewDispatcher creates a dispatcher. Intent mode, the default, needs an outbox.
func NewDispatcher(gw Gateway, store Store, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		gateway:  gw,
		store:    store,
		notifier: notify.Nop{},
		logger:   logger.With("component", "dispatcher"),
		mode:     config.DispatchIntent,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	switch d.mode {
	case config.DispatchIntent:
		if d.outbox == nil {
			return nil, errors.New("intent dispatch mode requires an outbox")
		}
	case config.DispatchConcurrent:
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", d.mode)
	}

	return d, nil
}

// Mode returns the active dispatch mode
func (d *Dispatcher) Mode() string {
	return d.mode
}

// InFlight reports whether the intent id belongs to a dispatch that has not
// returned yet
func (d *Dispatcher) InFlight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

func (d *Dispatcher) track(id string) func() {
	d.mu.Lock()
	d.inflight[id] = struct{}{}
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.inflight, id)
		d.mu.Unlock()
	}
}

// Dispatch validates draft, then sends it to the gateway and records it in
// the store. Each leg runs exactly once.
func (d *Dispatcher) Dispatch(ctx context.Context, draft *models.CampaignDraft) (*models.Campaign, error) {
	list, err := Validate(draft)
	if err != nil {
		metrics.IncCampaignDispatched(string(draft.SendType), err, 0)
		return nil, err
	}

	record, payload := d.build(draft, list)

	if d.mode == config.DispatchConcurrent {
		err = d.dispatchConcurrent(ctx, record, payload)
	} else {
		err = d.dispatchIntent(ctx, record, payload)
	}

	metrics.IncCampaignDispatched(string(record.SendType), err, record.PhoneCount)

	if err != nil {
		d.logger.Error("campaign dispatch failed",
			"campaign_id", record.ID,
			"instance", record.InstanceName,
			"error", err,
		)
		n := notify.New(notify.KindDispatchFailed, "campaign dispatch failed")
		n.CampaignID = record.ID
		n.Instance = record.InstanceName
		n.Error = err.Error()
		d.notifier.Notify(ctx, n)
		return nil, err
	}

	d.logger.Info("campaign dispatched",
		"campaign_id", record.ID,
		"instance", record.InstanceName,
		"send_type", record.SendType,
		"phones", record.PhoneCount,
		"mode", d.mode,
	)
	n := notify.New(notify.KindDispatchSucceeded, fmt.Sprintf("campaign %q sent to %d phones", record.Name, record.PhoneCount))
	n.CampaignID = record.ID
	n.Instance = record.InstanceName
	d.notifier.Notify(ctx, n)

	if d.refresher != nil {
		if err := d.refresher.Refresh(ctx); err != nil {
			d.logger.Warn("failed to refresh campaign views", "error", err)
		}
	}

	return record, nil
}

// build derives the store record and the gateway payload from one draft
func (d *Dispatcher) build(draft *models.CampaignDraft, list []string) (*models.Campaign, *gateway.CampaignPayload) {
	sendType := draft.SendType
	if sendType == "" {
		sendType = models.SendTypeText
	}

	record := &models.Campaign{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(draft.Name),
		Message:      draft.Message,
		InstanceName: strings.TrimSpace(draft.InstanceName),
		SendType:     sendType,
		PhoneCount:   len(list),
		DelaySeconds: draft.DelaySeconds,
		Status:       models.CampaignPending,
		CreatedAt:    d.now(),
	}
	if sendType.HasImage() {
		record.ImageURL = strings.TrimSpace(draft.ImageURL)
	}

	payload := &gateway.CampaignPayload{
		InstanceName: record.InstanceName,
		CampaignName: record.Name,
		Message:      record.Message,
		Phones:       list,
		Delay:        record.DelaySeconds,
		SendType:     string(sendType),
	}
	if sendType == models.SendTypeImageText {
		payload.ImageURL = record.ImageURL
	}

	return record, payload
}

// dispatchConcurrent fires both legs at once and waits for both. Neither leg
// cancels the other.
func (d *Dispatcher) dispatchConcurrent(ctx context.Context, record *models.Campaign, payload *gateway.CampaignPayload) error {
	var (
		g        errgroup.Group
		gwErr    error
		storeErr error
	)

	g.Go(func() error {
		gwErr = d.gateway.DispatchCampaign(ctx, payload)
		return nil
	})
	g.Go(func() error {
		storeErr = apperrors.NewStore("insert campaign", d.store.Create(ctx, record))
		return nil
	})
	g.Wait()

	if gwErr != nil || storeErr != nil {
		return newDispatchError(record.ID, gwErr, storeErr)
	}
	return nil
}

// dispatchIntent records the intent, inserts the store row, calls the gateway
// and commits. A gateway failure marks the new row failed. The intent stays
// in flight until the call returns, so the reconciler leaves it alone.
func (d *Dispatcher) dispatchIntent(ctx context.Context, record *models.Campaign, payload *gateway.CampaignPayload) error {
	defer d.track(record.ID)()

	intent := &outbox.Intent{
		ID:        record.ID,
		Campaign:  *record,
		Payload:   payload,
		CreatedAt: record.CreatedAt,
	}
	if err := d.outbox.Put(ctx, intent); err != nil {
		return &DispatchError{Leg: LegOutbox, CampaignID: record.ID, Outbox: fmt.Errorf("record intent: %w", err)}
	}

	if err := d.store.Create(ctx, record); err != nil {
		storeErr := apperrors.NewStore("insert campaign", err)
		d.abort(ctx, record.ID, storeErr)
		return newDispatchError(record.ID, nil, storeErr)
	}

	if err := d.gateway.DispatchCampaign(ctx, payload); err != nil {
		if serr := d.store.UpdateStatus(ctx, record.ID, models.CampaignFailed); serr != nil {
			d.logger.Error("failed to mark campaign failed", "campaign_id", record.ID, "error", serr)
		}
		d.abort(ctx, record.ID, err)
		return newDispatchError(record.ID, err, nil)
	}

	if err := d.outbox.Commit(ctx, record.ID); err != nil {
		return d.settle(ctx, record, err)
	}
	return nil
}

// settle handles a gateway acceptance whose intent could not be committed.
// The record is marked sent; the reconciler closes an open intent of a sent
// campaign without failing it.
func (d *Dispatcher) settle(ctx context.Context, record *models.Campaign, commitErr error) error {
	if errors.Is(commitErr, outbox.ErrFinished) {
		d.logger.Warn("dispatch intent closed before commit", "campaign_id", record.ID, "error", commitErr)
	} else {
		d.logger.Error("failed to commit dispatch intent", "campaign_id", record.ID, "error", commitErr)
	}

	if err := d.store.UpdateStatus(ctx, record.ID, models.CampaignSent); err != nil {
		return &DispatchError{
			Leg:        LegOutbox,
			CampaignID: record.ID,
			Outbox:     fmt.Errorf("commit intent after gateway accepted: %w", commitErr),
			Store:      apperrors.NewStore("mark campaign sent", err),
		}
	}
	record.Status = models.CampaignSent
	return nil
}

func (d *Dispatcher) abort(ctx context.Context, id string, cause error) {
	if err := d.outbox.Abort(ctx, id, cause.Error()); err != nil {
		d.logger.Error("failed to abort dispatch intent", "campaign_id", id, "error", err)
	}
}
