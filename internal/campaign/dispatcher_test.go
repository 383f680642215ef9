package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
	"github.com/foxzi/wacampaign/internal/outbox"
)

type fakeGateway struct {
	mu       sync.Mutex
	payloads []*gateway.CampaignPayload
	err      error
	// during runs inside the call, before it returns
	during func()
}

func (f *fakeGateway) DispatchCampaign(ctx context.Context, payload *gateway.CampaignPayload) error {
	if f.during != nil {
		f.during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeStore struct {
	mu        sync.Mutex
	campaigns map[string]*models.Campaign
	inserts   int
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{campaigns: make(map[string]*models.Campaign)}
}

func (f *fakeStore) Create(ctx context.Context, c *models.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.createErr != nil {
		return f.createErr
	}
	cp := *c
	f.campaigns[c.ID] = &cp
	return nil
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status models.CampaignStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	c, ok := f.campaigns[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.Status = status
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) get(id string) *models.Campaign {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.campaigns[id]
}

type countingRefresher struct {
	calls int
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context) error {
	r.calls++
	return r.err
}

// inflightID returns the one dispatch d is running
func inflightID(t *testing.T, d *Dispatcher) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.inflight) != 1 {
		t.Fatalf("in-flight dispatches = %d, want 1", len(d.inflight))
	}
	for id := range d.inflight {
		return id
	}
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOutbox(t *testing.T) *outbox.BoltStore {
	t.Helper()
	store, err := outbox.NewBoltStore(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewDispatcherRequiresOutbox(t *testing.T) {
	if _, err := NewDispatcher(&fakeGateway{}, newFakeStore(), testLogger()); err == nil {
		t.Error("expected error for intent mode without outbox")
	}
	if _, err := NewDispatcher(&fakeGateway{}, newFakeStore(), testLogger(), WithMode("bogus")); err == nil {
		t.Error("expected error for unknown mode")
	}
	d, err := NewDispatcher(&fakeGateway{}, newFakeStore(), testLogger(), WithMode(config.DispatchConcurrent))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if d.Mode() != config.DispatchConcurrent {
		t.Errorf("Mode() = %q", d.Mode())
	}
}

func TestDispatchTextCampaign(t *testing.T) {
	for _, mode := range []string{config.DispatchIntent, config.DispatchConcurrent} {
		t.Run(mode, func(t *testing.T) {
			gw := &fakeGateway{}
			store := newFakeStore()
			ref := &countingRefresher{}
			events := notify.NewChan(10)

			opts := []Option{WithMode(mode), WithRefresher(ref), WithNotifier(events)}
			if mode == config.DispatchIntent {
				opts = append(opts, WithOutbox(newTestOutbox(t)))
			}
			d, err := NewDispatcher(gw, store, testLogger(), opts...)
			if err != nil {
				t.Fatalf("NewDispatcher() error = %v", err)
			}

			draft := &models.CampaignDraft{
				Name:         "Promo",
				InstanceName: "loja1",
				SendType:     models.SendTypeText,
				Message:      "Hello",
				RawPhones:    "11999999999, 11988888888",
				DelaySeconds: 3,
			}

			c, err := d.Dispatch(context.Background(), draft)
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			if gw.calls() != 1 {
				t.Fatalf("gateway calls = %d, want 1", gw.calls())
			}
			if store.inserts != 1 {
				t.Fatalf("store inserts = %d, want 1", store.inserts)
			}

			p := gw.payloads[0]
			if p.InstanceName != "loja1" || p.CampaignName != "Promo" || p.Message != "Hello" {
				t.Errorf("payload = %+v", p)
			}
			if len(p.Phones) != 2 || p.Phones[0] != "11999999999" || p.Phones[1] != "11988888888" {
				t.Errorf("payload phones = %v", p.Phones)
			}
			if p.Delay != 3 || p.SendType != "text" || p.ImageURL != "" {
				t.Errorf("payload = %+v", p)
			}

			stored := store.get(c.ID)
			if stored == nil {
				t.Fatal("campaign not stored")
			}
			if stored.PhoneCount != 2 || stored.Status != models.CampaignPending {
				t.Errorf("stored = %+v", stored)
			}
			if ref.calls != 1 {
				t.Errorf("refresh calls = %d, want 1", ref.calls)
			}

			got := events.Drain()
			if len(got) != 1 || got[0].Kind != notify.KindDispatchSucceeded {
				t.Errorf("notifications = %+v", got)
			}
		})
	}
}

func TestDispatchImagePayload(t *testing.T) {
	tests := []struct {
		sendType     models.SendType
		wantImageURL string
	}{
		{models.SendTypeImageText, "https://cdn.example.com/a.png"},
		{models.SendTypeImage, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.sendType), func(t *testing.T) {
			gw := &fakeGateway{}
			store := newFakeStore()
			d, err := NewDispatcher(gw, store, testLogger(), WithOutbox(newTestOutbox(t)))
			if err != nil {
				t.Fatal(err)
			}

			c, err := d.Dispatch(context.Background(), &models.CampaignDraft{
				Name:         "Promo",
				InstanceName: "loja1",
				SendType:     tt.sendType,
				Message:      "Hi",
				ImageURL:     "https://cdn.example.com/a.png",
				RawPhones:    "11999999999",
				DelaySeconds: 1,
			})
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}

			if gw.payloads[0].ImageURL != tt.wantImageURL {
				t.Errorf("payload imageUrl = %q, want %q", gw.payloads[0].ImageURL, tt.wantImageURL)
			}
			if store.get(c.ID).ImageURL != "https://cdn.example.com/a.png" {
				t.Errorf("stored image url = %q", store.get(c.ID).ImageURL)
			}
		})
	}
}

func TestDispatchValidationFailureMakesNoCalls(t *testing.T) {
	for _, mode := range []string{config.DispatchIntent, config.DispatchConcurrent} {
		t.Run(mode, func(t *testing.T) {
			gw := &fakeGateway{}
			store := newFakeStore()
			opts := []Option{WithMode(mode)}
			if mode == config.DispatchIntent {
				opts = append(opts, WithOutbox(newTestOutbox(t)))
			}
			d, err := NewDispatcher(gw, store, testLogger(), opts...)
			if err != nil {
				t.Fatal(err)
			}

			draft := validDraft()
			draft.RawPhones = manyPhones(1001)

			_, err = d.Dispatch(context.Background(), draft)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Reason != apperrors.ReasonTooManyPhones {
				t.Fatalf("Dispatch() error = %v, want too_many_phones", err)
			}
			if gw.calls() != 0 || store.inserts != 0 {
				t.Errorf("gateway calls = %d, store inserts = %d, want none", gw.calls(), store.inserts)
			}
		})
	}
}

func TestDispatchConcurrentPartialFailure(t *testing.T) {
	tests := []struct {
		name     string
		gwErr    error
		storeErr error
		wantLeg  Leg
	}{
		{"gateway down", &apperrors.GatewayError{Call: gateway.CallCampaignDispatch, StatusCode: 500}, nil, LegGateway},
		{"store down", nil, errors.New("disk full"), LegStore},
		{"both down", &apperrors.GatewayError{Call: gateway.CallCampaignDispatch, StatusCode: 503}, errors.New("disk full"), LegBoth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{err: tt.gwErr}
			store := newFakeStore()
			store.createErr = tt.storeErr
			ref := &countingRefresher{}

			d, err := NewDispatcher(gw, store, testLogger(), WithMode(config.DispatchConcurrent), WithRefresher(ref))
			if err != nil {
				t.Fatal(err)
			}

			_, err = d.Dispatch(context.Background(), validDraft())
			var de *DispatchError
			if !errors.As(err, &de) {
				t.Fatalf("Dispatch() error = %v, want DispatchError", err)
			}
			if de.Leg != tt.wantLeg {
				t.Errorf("Leg = %q, want %q", de.Leg, tt.wantLeg)
			}

			// Both legs always run exactly once
			if gw.calls() != 1 || store.inserts != 1 {
				t.Errorf("gateway calls = %d, store inserts = %d, want 1 each", gw.calls(), store.inserts)
			}
			if ref.calls != 0 {
				t.Error("refresh must not run after a failure")
			}

			if tt.gwErr != nil {
				var ge *apperrors.GatewayError
				if !errors.As(err, &ge) {
					t.Error("gateway error not reachable through errors.As")
				}
			}
			if tt.storeErr != nil {
				var se *apperrors.StoreError
				if !errors.As(err, &se) {
					t.Error("store error not reachable through errors.As")
				}
			}
		})
	}
}

func TestDispatchIntentGatewayFailure(t *testing.T) {
	ob := newTestOutbox(t)
	gw := &fakeGateway{err: &apperrors.GatewayError{Call: gateway.CallCampaignDispatch, StatusCode: 500, Message: "instance offline"}}
	store := newFakeStore()
	events := notify.NewChan(10)

	d, err := NewDispatcher(gw, store, testLogger(), WithOutbox(ob), WithNotifier(events))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Dispatch(context.Background(), validDraft())
	var de *DispatchError
	if !errors.As(err, &de) || de.Leg != LegGateway {
		t.Fatalf("Dispatch() error = %v, want gateway leg", err)
	}

	stored := store.get(de.CampaignID)
	if stored == nil {
		t.Fatal("campaign row should exist")
	}
	if stored.Status != models.CampaignFailed {
		t.Errorf("status = %q, want failed", stored.Status)
	}

	in, err := ob.Get(context.Background(), de.CampaignID)
	if err != nil || in == nil {
		t.Fatalf("Get() = %v, %v", in, err)
	}
	if in.State != outbox.StateAborted {
		t.Errorf("intent state = %q, want aborted", in.State)
	}

	got := events.Drain()
	if len(got) != 1 || got[0].Kind != notify.KindDispatchFailed {
		t.Errorf("notifications = %+v", got)
	}
}

func TestDispatchIntentStoreFailureSkipsGateway(t *testing.T) {
	ob := newTestOutbox(t)
	gw := &fakeGateway{}
	store := newFakeStore()
	store.createErr = errors.New("database is locked")

	d, err := NewDispatcher(gw, store, testLogger(), WithOutbox(ob))
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.Dispatch(context.Background(), validDraft())
	var de *DispatchError
	if !errors.As(err, &de) || de.Leg != LegStore {
		t.Fatalf("Dispatch() error = %v, want store leg", err)
	}
	if gw.calls() != 0 {
		t.Errorf("gateway calls = %d, want 0", gw.calls())
	}

	in, _ := ob.Get(context.Background(), de.CampaignID)
	if in == nil || in.State != outbox.StateAborted {
		t.Errorf("intent = %+v, want aborted", in)
	}
}

func TestDispatchIntentCommits(t *testing.T) {
	ob := newTestOutbox(t)
	d, err := NewDispatcher(&fakeGateway{}, newFakeStore(), testLogger(), WithOutbox(ob))
	if err != nil {
		t.Fatal(err)
	}

	c, err := d.Dispatch(context.Background(), validDraft())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	in, _ := ob.Get(context.Background(), c.ID)
	if in == nil || in.State != outbox.StateCommitted {
		t.Errorf("intent = %+v, want committed", in)
	}
	if stats, _ := ob.Stats(context.Background()); stats.Pending != 0 {
		t.Errorf("pending intents = %d, want 0", stats.Pending)
	}
}

func TestDispatchRefreshErrorIsIgnored(t *testing.T) {
	ref := &countingRefresher{err: errors.New("stats query failed")}
	d, err := NewDispatcher(&fakeGateway{}, newFakeStore(), testLogger(), WithOutbox(newTestOutbox(t)), WithRefresher(ref))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := d.Dispatch(context.Background(), validDraft()); err != nil {
		t.Errorf("Dispatch() error = %v, refresh failures must not fail the dispatch", err)
	}
	if ref.calls != 1 {
		t.Errorf("refresh calls = %d", ref.calls)
	}
}

func TestDispatchIntentCommitAfterAbort(t *testing.T) {
	ob := newTestOutbox(t)
	store := newFakeStore()
	gw := &fakeGateway{}
	d, err := NewDispatcher(gw, store, testLogger(), WithOutbox(ob))
	if err != nil {
		t.Fatal(err)
	}

	// Another process closes the intent while the gateway call runs
	gw.during = func() {
		if err := ob.Abort(context.Background(), inflightID(t, d), "closed elsewhere"); err != nil {
			t.Errorf("Abort() error = %v", err)
		}
	}

	c, err := d.Dispatch(context.Background(), validDraft())
	if err != nil {
		t.Fatalf("Dispatch() error = %v, the gateway accepted the campaign", err)
	}
	if c.Status != models.CampaignSent {
		t.Errorf("returned status = %q, want sent", c.Status)
	}
	if got := store.get(c.ID); got == nil || got.Status != models.CampaignSent {
		t.Errorf("stored campaign = %+v, want sent", got)
	}
	if d.InFlight(c.ID) {
		t.Error("dispatch still tracked in flight after return")
	}
}

func TestDispatchIntentCommitFailureStoreDown(t *testing.T) {
	ob := newTestOutbox(t)
	store := newFakeStore()
	gw := &fakeGateway{}
	d, err := NewDispatcher(gw, store, testLogger(), WithOutbox(ob))
	if err != nil {
		t.Fatal(err)
	}

	gw.during = func() {
		if err := ob.Abort(context.Background(), inflightID(t, d), "closed elsewhere"); err != nil {
			t.Errorf("Abort() error = %v", err)
		}
		store.mu.Lock()
		store.updateErr = errors.New("database is locked")
		store.mu.Unlock()
	}

	_, err = d.Dispatch(context.Background(), validDraft())
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("Dispatch() error = %v, want *DispatchError", err)
	}
	if de.Leg != LegOutbox || de.Store == nil || !errors.Is(de.Outbox, outbox.ErrFinished) {
		t.Errorf("DispatchError = %+v", de)
	}
}
