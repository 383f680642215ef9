package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/campaign"
	"github.com/foxzi/wacampaign/internal/notify"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Pairing string `json:"pairing,omitempty"`
}

// ErrorResponse is the error response. Error is always set; the other fields
// describe operation failures.
type ErrorResponse struct {
	Error         string           `json:"error"`
	Kind          apperrors.Kind   `json:"kind,omitempty"`
	Reason        apperrors.Reason `json:"reason,omitempty"`
	GatewayStatus int              `json:"gateway_status,omitempty"`
	Leg           campaign.Leg     `json:"leg,omitempty"`
	CampaignID    string           `json:"campaign_id,omitempty"`
}

// EventsResponse is the response for GET /api/v1/events
type EventsResponse struct {
	Events  []notify.Notification `json:"events"`
	Dropped int                   `json:"dropped"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).String(),
	}
	if s.deps.Instances != nil {
		resp.Pairing, _ = s.deps.Instances.Pairing()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleEvents handles GET /api/v1/events. It returns and removes every
// buffered notification.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.sendError(w, http.StatusNotFound, "events are not enabled")
		return
	}

	events := s.deps.Events.Drain()
	if events == nil {
		events = []notify.Notification{}
	}
	s.sendJSON(w, http.StatusOK, EventsResponse{
		Events:  events,
		Dropped: s.deps.Events.Dropped(),
	})
}

// handleReconcile handles POST /api/v1/reconcile
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reconciler == nil {
		s.sendError(w, http.StatusNotFound, "reconciler is not enabled in this dispatch mode")
		return
	}

	res, err := s.deps.Reconciler.RunOnce(r.Context())
	if err != nil {
		s.sendOperationError(w, "reconcile", err)
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// sendOperationError renders err with the status matching its kind
func (s *Server) sendOperationError(w http.ResponseWriter, op string, err error) {
	res := apperrors.Describe(err)
	status := statusForKind(res.Kind)

	resp := ErrorResponse{
		Error:         res.Message,
		Kind:          res.Kind,
		Reason:        res.Reason,
		GatewayStatus: res.StatusCode,
	}

	var de *campaign.DispatchError
	if errors.As(err, &de) {
		resp.Leg = de.Leg
		resp.CampaignID = de.CampaignID
		if de.Leg == campaign.LegBoth || de.Leg == campaign.LegOutbox {
			resp.Error = de.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("operation failed", "operation", op, "kind", res.Kind, "error", err)
	}
	s.sendJSON(w, status, resp)
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusUnprocessableEntity
	case apperrors.KindGateway, apperrors.KindParse:
		return http.StatusBadGateway
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
