// Package instance manages the lifecycle of gateway instances: creation,
// connection checks, QR pairing and local disconnects.
package instance

import (
	"fmt"
	"time"

	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/notify"
)

// Phase is the in-memory lifecycle phase of an instance
type Phase string

const (
	PhaseCreating     Phase = "creating"
	PhasePendingQR    Phase = "pending_qr"
	PhaseConnected    Phase = "connected"
	PhaseDisconnected Phase = "disconnected"
	PhaseError        Phase = "error"
)

// Source tags where an event came from
type Source string

const (
	SourceStatusTick Source = "status_tick"
	SourceQRTick     Source = "qr_tick"
	SourceManual     Source = "manual"
)

// EventKind identifies what happened to an instance
type EventKind string

const (
	EventCreated    EventKind = "created"
	EventStatus     EventKind = "status"
	EventQR         EventKind = "qr"
	EventDisconnect EventKind = "disconnect"
	EventFailed     EventKind = "failed"
)

// Event is one input to the reducer. Started is when the gateway call behind
// the event began; results of calls started before the last disconnect are
// dropped.
type Event struct {
	Kind      EventKind
	Source    Source
	Operation string
	Status    models.InstanceStatus
	QR        []byte
	Err       error
	Started   time.Time
	At        time.Time
}

// Session is the in-memory projection of one instance
type Session struct {
	Name           string                `json:"name"`
	Phase          Phase                 `json:"phase"`
	Status         models.InstanceStatus `json:"status"`
	HasQR          bool                  `json:"has_qr"`
	LastError      string                `json:"last_error,omitempty"`
	LastSource     Source                `json:"last_source,omitempty"`
	DisconnectedAt time.Time             `json:"disconnected_at,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// effects are the side effects the manager performs after a transition
type effects struct {
	ignored       bool
	persistStatus bool
	persistQR     bool
	cacheQR       []byte
	releaseQR     bool
	openPairing   bool
	closePairing  bool
	notifications []notify.Notification
}

// reduce applies e to s. It performs no I/O.
func reduce(s Session, e Event) (Session, effects) {
	var fx effects

	if e.Kind != EventDisconnect && !e.Started.IsZero() && e.Started.Before(s.DisconnectedAt) {
		fx.ignored = true
		return s, fx
	}

	s.LastSource = e.Source
	s.UpdatedAt = e.At

	switch e.Kind {
	case EventCreated:
		s.Phase = PhasePendingQR
		s.Status = models.InstancePending
		s.HasQR = true
		s.LastError = ""
		fx.cacheQR = e.QR
		fx.openPairing = true
		fx.notifications = append(fx.notifications, note(notify.KindInstanceCreated, s.Name, "instance created, waiting for QR scan", e.At))

	case EventStatus:
		s.LastError = ""
		if e.Status.Online() {
			if s.Status != models.InstanceConnected {
				fx.notifications = append(fx.notifications, note(notify.KindStatusChanged, s.Name, "instance connected", e.At))
			}
			s.Phase = PhaseConnected
			s.Status = models.InstanceConnected
			s.HasQR = false
			fx.persistStatus = true
			fx.releaseQR = true
			fx.closePairing = true
			break
		}

		if s.Status == models.InstanceConnected && e.Source != SourceManual {
			n := note(notify.KindStatusMismatch, s.Name, "gateway reports instance offline, run a manual check to update", e.At)
			n.Operation = string(e.Source)
			fx.notifications = append(fx.notifications, n)
			s.Phase = PhaseConnected
			break
		}

		if s.Status == models.InstanceConnected {
			fx.notifications = append(fx.notifications, note(notify.KindStatusChanged, s.Name, "instance offline", e.At))
		}
		s.Status = models.InstancePending
		s.Phase = idlePhase(s)
		fx.persistStatus = true

	case EventQR:
		s.HasQR = true
		s.LastError = ""
		if s.Status != models.InstanceConnected {
			s.Phase = PhasePendingQR
		}
		fx.persistQR = true
		fx.cacheQR = e.QR
		fx.notifications = append(fx.notifications, note(notify.KindQRRefreshed, s.Name, "QR code refreshed", e.At))

	case EventDisconnect:
		s.Phase = PhaseDisconnected
		s.Status = models.InstancePending
		s.HasQR = false
		s.LastError = ""
		s.DisconnectedAt = e.At
		fx.persistStatus = true
		fx.releaseQR = true
		fx.closePairing = true
		fx.notifications = append(fx.notifications, note(notify.KindDisconnected, s.Name, "instance disconnected locally", e.At))

	case EventFailed:
		s.Phase = PhaseError
		if e.Err != nil {
			s.LastError = e.Err.Error()
		}
		n := note(notify.KindOperationFailed, s.Name, fmt.Sprintf("%s failed", e.Operation), e.At)
		n.Operation = e.Operation
		n.Error = s.LastError
		fx.notifications = append(fx.notifications, n)
	}

	return s, fx
}

func idlePhase(s Session) Phase {
	if s.HasQR {
		return PhasePendingQR
	}
	return PhaseDisconnected
}

func note(kind notify.Kind, name, msg string, at time.Time) notify.Notification {
	return notify.Notification{Kind: kind, Instance: name, Message: msg, Time: at}
}

// sessionFromRecord seeds a session from a stored instance
func sessionFromRecord(inst *models.Instance) Session {
	s := Session{
		Name:      inst.Name,
		Status:    inst.Status,
		HasQR:     inst.HasQRCode(),
		UpdatedAt: inst.UpdatedAt,
	}
	if inst.Status.Online() {
		s.Phase = PhaseConnected
	} else {
		s.Phase = idlePhase(s)
	}
	return s
}
