package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/wacampaign/internal/instance"
	"github.com/foxzi/wacampaign/internal/models"
)

// CreateInstanceRequest is the request body for POST /api/v1/instances
type CreateInstanceRequest struct {
	Name string `json:"name"`
}

// InstanceResponse describes a stored instance together with its in-memory
// session
type InstanceResponse struct {
	models.Instance
	QRAvailable bool              `json:"has_qr_code"`
	Session     *instance.Session `json:"session,omitempty"`
}

// InstanceListResponse is the response for GET /api/v1/instances
type InstanceListResponse struct {
	Instances []InstanceResponse `json:"instances"`
	Pairing   string             `json:"pairing,omitempty"`
}

// PairingResponse is the response for GET /api/v1/pairing
type PairingResponse struct {
	Open     bool   `json:"open"`
	Instance string `json:"instance,omitempty"`
}

// handleCreateInstance handles POST /api/v1/instances
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	inst, err := s.deps.Instances.Create(r.Context(), req.Name)
	if err != nil {
		s.sendOperationError(w, "create instance", err)
		return
	}

	s.sendJSON(w, http.StatusCreated, InstanceResponse{Instance: *inst, QRAvailable: inst.HasQRCode()})
}

// handleListInstances handles GET /api/v1/instances
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Instances.Instances(r.Context())
	if err != nil {
		s.sendOperationError(w, "list instances", err)
		return
	}

	sessions := make(map[string]instance.Session)
	for _, sess := range s.deps.Instances.Sessions() {
		sessions[sess.Name] = sess
	}

	resp := InstanceListResponse{Instances: make([]InstanceResponse, 0, len(list))}
	for _, inst := range list {
		item := InstanceResponse{Instance: inst, QRAvailable: inst.HasQRCode()}
		if sess, ok := sessions[inst.Name]; ok {
			item.Session = &sess
		}
		resp.Instances = append(resp.Instances, item)
	}
	resp.Pairing, _ = s.deps.Instances.Pairing()

	s.sendJSON(w, http.StatusOK, resp)
}

// handleQRCode handles GET /api/v1/instances/{name}/qr and serves the image
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	qr, err := s.deps.Instances.QRCode(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.sendOperationError(w, "get qr code", err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(qr))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(qr)
}

// handleCheckStatus handles POST /api/v1/instances/{name}/check
func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Instances.CheckStatus(r.Context(), chi.URLParam(r, "name"))
	s.sendSession(w, "check status", sess, err)
}

// handleConnect handles POST /api/v1/instances/{name}/connect
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Instances.Connect(r.Context(), chi.URLParam(r, "name"))
	s.sendSession(w, "connect", sess, err)
}

// handleRefreshQR handles POST /api/v1/instances/{name}/refresh-qr
func (s *Server) handleRefreshQR(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Instances.RefreshQR(r.Context(), chi.URLParam(r, "name"))
	s.sendSession(w, "refresh qr", sess, err)
}

// handleDisconnect handles POST /api/v1/instances/{name}/disconnect
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Instances.Disconnect(r.Context(), chi.URLParam(r, "name"))
	s.sendSession(w, "disconnect", sess, err)
}

// handleClosePairing handles DELETE /api/v1/instances/{name}/pairing
func (s *Server) handleClosePairing(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.deps.Instances.ClosePairing(name) {
		s.sendError(w, http.StatusNotFound, "no pairing dialog open for "+name)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePairing handles GET /api/v1/pairing
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	name, open := s.deps.Instances.Pairing()
	s.sendJSON(w, http.StatusOK, PairingResponse{Open: open, Instance: name})
}

func (s *Server) sendSession(w http.ResponseWriter, op string, sess *instance.Session, err error) {
	if err != nil {
		s.sendOperationError(w, op, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sess)
}
