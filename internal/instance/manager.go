package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/gateway"
	"github.com/foxzi/wacampaign/internal/metrics"
	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
)

// Operation names used in notifications and logs
const (
	OpCreate      = "create"
	OpCheckStatus = "check_status"
	OpRefreshQR   = "refresh_qr"
	OpDisconnect  = "disconnect"
)

// Gateway is the instance side of the automation webhooks
type Gateway interface {
	CreateInstance(ctx context.Context, name string) ([]byte, error)
	ConfirmConnection(ctx context.Context, name string) (string, error)
	RefreshQRCode(ctx context.Context, name string) ([]byte, error)
}

// Store persists instances
type Store interface {
	Create(ctx context.Context, inst *models.Instance) error
	GetByName(ctx context.Context, name string) (*models.Instance, error)
	List(ctx context.Context) ([]models.Instance, error)
	UpdateStatus(ctx context.Context, name string, status models.InstanceStatus) error
	UpdateQRCode(ctx context.Context, name string, qr []byte) error
}

// PairingListener is called whenever the pairing dialog opens or closes. It
// runs on the caller's goroutine and must not block.
type PairingListener func(name string, open bool)

// Manager applies lifecycle operations to instances. Gateway calls run without
// holding any lock; their results are applied one at a time per instance.
type Manager struct {
	gateway  Gateway
	store    Store
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Session
	locks     map[string]*sync.Mutex
	pairing   string
	listeners []PairingListener

	qr *qrCache
}

// NewManager creates an instance manager
func NewManager(gw Gateway, store Store, n notify.Notifier, logger *slog.Logger) *Manager {
	if n == nil {
		n = notify.Nop{}
	}
	return &Manager{
		gateway:  gw,
		store:    store,
		notifier: n,
		logger:   logger.With("component", "instances"),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		qr:       newQRCache(),
	}
}

// OnPairing registers a pairing listener
func (m *Manager) OnPairing(l PairingListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Load seeds sessions from the store
func (m *Manager) Load(ctx context.Context) error {
	list, err := m.store.List(ctx)
	if err != nil {
		return apperrors.NewStore("list instances", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range list {
		if _, ok := m.sessions[list[i].Name]; ok {
			continue
		}
		s := sessionFromRecord(&list[i])
		m.sessions[s.Name] = &s
	}
	m.logger.Debug("loaded instances", "count", len(list))
	return nil
}

// Create registers a new instance at the gateway and stores it with the
// returned QR code. Nothing is stored when the gateway call fails.
func (m *Manager) Create(ctx context.Context, name string) (*models.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidation(apperrors.ReasonInstanceNameRequired)
	}

	existing, err := m.store.GetByName(ctx, name)
	if err != nil {
		return nil, apperrors.NewStore("get instance", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("instance %q: %w", name, apperrors.ErrAlreadyExists)
	}

	started := m.now()
	qr, err := m.gateway.CreateInstance(ctx, name)
	if err != nil {
		m.fail(ctx, name, OpCreate, SourceManual, err)
		return nil, err
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	inst := &models.Instance{
		Name:      name,
		Status:    models.InstancePending,
		QRCode:    qr,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, inst); err != nil {
		serr := apperrors.NewStore("insert instance", err)
		m.applyLocked(ctx, name, Event{Kind: EventFailed, Source: SourceManual, Operation: OpCreate, Err: serr, At: now})
		return nil, serr
	}

	// A previous failed attempt may have left a session in error
	m.mu.Lock()
	delete(m.sessions, name)
	m.mu.Unlock()

	if _, err := m.applyLocked(ctx, name, Event{Kind: EventCreated, Source: SourceManual, Operation: OpCreate, QR: qr, Started: started, At: now}); err != nil {
		return nil, err
	}

	m.logger.Info("instance created", "instance", name, "qr_bytes", len(qr))
	return inst, nil
}

// CheckStatus asks the gateway whether the instance is connected and stores
// the result. Only an explicit "connected" counts as connected.
func (m *Manager) CheckStatus(ctx context.Context, name string) (*Session, error) {
	return m.checkStatus(ctx, name, SourceManual)
}

func (m *Manager) checkStatus(ctx context.Context, name string, src Source) (*Session, error) {
	if err := m.ensure(ctx, name); err != nil {
		return nil, err
	}

	started := m.now()
	raw, err := m.gateway.ConfirmConnection(ctx, name)
	if err != nil {
		m.fail(ctx, name, OpCheckStatus, src, err)
		return nil, err
	}

	status := models.InstancePending
	if raw == gateway.StatusConnected {
		status = models.InstanceConnected
	}

	return m.apply(ctx, name, Event{Kind: EventStatus, Source: src, Operation: OpCheckStatus, Status: status, Started: started, At: m.now()})
}

// RefreshQR fetches a new QR code and replaces the cached and stored one.
// The persisted status is left as is.
func (m *Manager) RefreshQR(ctx context.Context, name string) (*Session, error) {
	return m.refreshQR(ctx, name, SourceManual)
}

func (m *Manager) refreshQR(ctx context.Context, name string, src Source) (*Session, error) {
	if err := m.ensure(ctx, name); err != nil {
		return nil, err
	}

	started := m.now()
	qr, err := m.gateway.RefreshQRCode(ctx, name)
	if err != nil {
		m.fail(ctx, name, OpRefreshQR, src, err)
		return nil, err
	}

	return m.apply(ctx, name, Event{Kind: EventQR, Source: src, Operation: OpRefreshQR, QR: qr, Started: started, At: m.now()})
}

// Connect refreshes the QR code and opens the pairing dialog for the instance
func (m *Manager) Connect(ctx context.Context, name string) (*Session, error) {
	s, err := m.RefreshQR(ctx, name)
	if err != nil {
		return nil, err
	}
	m.OpenPairing(name)
	return s, nil
}

// Disconnect marks the instance pending and drops its cached QR code. The
// gateway session itself is not torn down.
func (m *Manager) Disconnect(ctx context.Context, name string) (*Session, error) {
	if err := m.ensure(ctx, name); err != nil {
		return nil, err
	}
	return m.apply(ctx, name, Event{Kind: EventDisconnect, Source: SourceManual, Operation: OpDisconnect, At: m.now()})
}

// QRCode returns the latest QR image for name, from the cache or the store
func (m *Manager) QRCode(ctx context.Context, name string) ([]byte, error) {
	if qr := m.qr.get(name); qr != nil {
		return qr, nil
	}

	inst, err := m.store.GetByName(ctx, name)
	if err != nil {
		return nil, apperrors.NewStore("get instance", err)
	}
	if inst == nil || !inst.HasQRCode() {
		return nil, fmt.Errorf("qr code for %q: %w", name, apperrors.ErrNotFound)
	}
	return inst.QRCode, nil
}

// Instances lists stored instances, most recently updated first
func (m *Manager) Instances(ctx context.Context) ([]models.Instance, error) {
	list, err := m.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewStore("list instances", err)
	}
	return list, nil
}

// Session returns the in-memory projection of name
func (m *Manager) Session(name string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns a snapshot of every known session ordered by name
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenPairing shows the pairing dialog for name, replacing any other
func (m *Manager) OpenPairing(name string) {
	m.mu.Lock()
	prev := m.pairing
	if prev == name {
		m.mu.Unlock()
		return
	}
	m.pairing = name
	listeners := append([]PairingListener(nil), m.listeners...)
	m.mu.Unlock()

	metrics.SetPairingOpen(true)
	for _, l := range listeners {
		if prev != "" {
			l(prev, false)
		}
		l(name, true)
	}

	m.notifier.Notify(context.Background(), note(notify.KindPairingOpened, name, "pairing dialog opened", m.now()))
}

// ClosePairing closes the pairing dialog if it is open for name
func (m *Manager) ClosePairing(name string) bool {
	return m.closePairing(context.Background(), name, "pairing dialog closed")
}

func (m *Manager) closePairing(ctx context.Context, name, reason string) bool {
	m.mu.Lock()
	if m.pairing == "" || m.pairing != name {
		m.mu.Unlock()
		return false
	}
	m.pairing = ""
	listeners := append([]PairingListener(nil), m.listeners...)
	m.mu.Unlock()

	metrics.SetPairingOpen(false)
	for _, l := range listeners {
		l(name, false)
	}

	m.notifier.Notify(ctx, note(notify.KindPairingClosed, name, reason, m.now()))
	return true
}

// Pairing returns the instance whose pairing dialog is open
func (m *Manager) Pairing() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairing, m.pairing != ""
}

// Close releases every cached QR handle and closes the pairing dialog
func (m *Manager) Close() {
	if name, ok := m.Pairing(); ok {
		m.closePairing(context.Background(), name, "shutting down")
	}
	m.qr.releaseAll()
}

// ensure fails with ErrNotFound for instances that were never created
func (m *Manager) ensure(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.NewValidation(apperrors.ReasonInstanceNameRequired)
	}

	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if ok && s.Phase != PhaseCreating && s.Phase != PhaseError {
		return nil
	}

	inst, err := m.store.GetByName(ctx, name)
	if err != nil {
		return apperrors.NewStore("get instance", err)
	}
	if inst == nil {
		return fmt.Errorf("instance %q: %w", name, apperrors.ErrNotFound)
	}
	return nil
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// fail records a failed gateway call. The persisted status is not touched.
func (m *Manager) fail(ctx context.Context, name, op string, src Source, err error) {
	if ctx.Err() != nil {
		m.logger.Debug("instance operation cancelled", "instance", name, "operation", op, "source", src)
		return
	}
	m.logger.Warn("instance operation failed", "instance", name, "operation", op, "source", src, "error", err)
	m.apply(ctx, name, Event{Kind: EventFailed, Source: src, Operation: op, Err: err, At: m.now()})
}

func (m *Manager) apply(ctx context.Context, name string, e Event) (*Session, error) {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return m.applyLocked(ctx, name, e)
}

// applyLocked runs the reducer and performs its effects. The caller holds the
// instance lock.
func (m *Manager) applyLocked(ctx context.Context, name string, e Event) (*Session, error) {
	cur, err := m.current(ctx, name)
	if err != nil {
		return nil, err
	}

	next, fx := reduce(cur, e)
	if fx.ignored {
		m.logger.Debug("dropped stale instance event", "instance", name, "event", e.Kind, "source", e.Source)
		return &cur, nil
	}

	if err := m.persist(ctx, next, fx); err != nil {
		next, fx = reduce(cur, Event{Kind: EventFailed, Source: e.Source, Operation: e.Operation, Err: err, At: e.At})
		m.commit(ctx, next, fx, EventFailed)
		return nil, err
	}

	m.commit(ctx, next, fx, e.Kind)

	if fx.openPairing {
		m.OpenPairing(name)
	}
	if fx.closePairing {
		m.closePairing(ctx, name, fmt.Sprintf("instance %s", next.Phase))
	}

	return &next, nil
}

func (m *Manager) persist(ctx context.Context, s Session, fx effects) error {
	if fx.persistStatus {
		if err := m.store.UpdateStatus(ctx, s.Name, s.Status); err != nil {
			return apperrors.NewStore("update instance status", err)
		}
	}
	if fx.persistQR {
		if err := m.store.UpdateQRCode(ctx, s.Name, fx.cacheQR); err != nil {
			return apperrors.NewStore("update instance qr code", err)
		}
	}
	return nil
}

func (m *Manager) commit(ctx context.Context, s Session, fx effects, kind EventKind) {
	m.mu.Lock()
	m.sessions[s.Name] = &s
	m.mu.Unlock()

	if fx.releaseQR {
		m.qr.release(s.Name)
	}
	if fx.cacheQR != nil {
		m.qr.put(s.Name, fx.cacheQR)
	}

	metrics.IncInstanceTransition(string(kind), string(s.Phase))
	for _, n := range fx.notifications {
		m.notifier.Notify(ctx, n)
	}
}

// current returns the session for name, seeding it from the store when the
// manager has not seen the instance yet
func (m *Manager) current(ctx context.Context, name string) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[name]
	m.mu.Unlock()
	if ok {
		return *s, nil
	}

	inst, err := m.store.GetByName(ctx, name)
	if err != nil {
		return Session{}, apperrors.NewStore("get instance", err)
	}
	if inst == nil {
		return Session{Name: name, Phase: PhaseCreating, Status: models.InstancePending}, nil
	}
	return sessionFromRecord(inst), nil
}
