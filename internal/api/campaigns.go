package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/foxzi/wacampaign/internal/models"
	"github.com/foxzi/wacampaign/internal/phones"
)

// maxPhonesFileSize caps an uploaded phones CSV
const maxPhonesFileSize = 2 << 20

// CampaignRequest is the request body for POST /api/v1/campaigns. A missing
// delay_seconds falls back to the default delay.
type CampaignRequest struct {
	Name         string          `json:"name"`
	Message      string          `json:"message"`
	InstanceName string          `json:"instance_name"`
	SendType     models.SendType `json:"send_type"`
	ImageURL     string          `json:"image_url"`
	DelaySeconds *int            `json:"delay_seconds"`
	Phones       string          `json:"phones"`
}

// CampaignListResponse is the response for GET /api/v1/campaigns
type CampaignListResponse struct {
	Campaigns []models.Campaign `json:"campaigns"`
	Total     int               `json:"total"`
}

func (req *CampaignRequest) draft() *models.CampaignDraft {
	delay := models.DefaultDelaySeconds
	if req.DelaySeconds != nil {
		delay = *req.DelaySeconds
	}
	return &models.CampaignDraft{
		Name:         req.Name,
		Message:      req.Message,
		InstanceName: req.InstanceName,
		SendType:     req.SendType,
		ImageURL:     req.ImageURL,
		DelaySeconds: delay,
		RawPhones:    req.Phones,
	}
}

// handleDispatch handles POST /api/v1/campaigns
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, msg := s.decodeCampaignRequest(r)
	if msg != "" {
		s.sendError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := s.deps.Dispatcher.Dispatch(r.Context(), req.draft())
	if err != nil {
		s.sendOperationError(w, "dispatch", err)
		return
	}

	s.sendJSON(w, http.StatusCreated, c)
}

// decodeCampaignRequest reads a JSON body or a multipart form whose optional
// phones_file replaces the phones field
func (s *Server) decodeCampaignRequest(r *http.Request) (*CampaignRequest, string) {
	var req CampaignRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, "Invalid request body"
		}
		return &req, ""
	}

	if err := r.ParseMultipartForm(maxPhonesFileSize); err != nil {
		return nil, "Invalid multipart form"
	}

	req.Name = r.FormValue("name")
	req.Message = r.FormValue("message")
	req.InstanceName = r.FormValue("instance_name")
	req.SendType = models.SendType(r.FormValue("send_type"))
	req.ImageURL = r.FormValue("image_url")
	req.Phones = r.FormValue("phones")

	if v := r.FormValue("delay_seconds"); v != "" {
		delay, err := strconv.Atoi(v)
		if err != nil {
			return nil, "delay_seconds must be a number"
		}
		req.DelaySeconds = &delay
	}

	file, header, err := r.FormFile("phones_file")
	if err == http.ErrMissingFile {
		return &req, ""
	}
	if err != nil {
		return nil, "Invalid phones file"
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		return nil, "phones file must be a .csv file"
	}

	data, err := io.ReadAll(io.LimitReader(file, maxPhonesFileSize+1))
	if err != nil {
		return nil, "Invalid phones file"
	}
	if len(data) > maxPhonesFileSize {
		return nil, "phones file exceeds 2 MiB"
	}
	req.Phones = string(data)

	return &req, ""
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.campaignFilter(w, r)
	if !ok {
		return
	}

	list, err := s.deps.Campaigns.List(r.Context(), filter)
	if err != nil {
		s.sendOperationError(w, "list campaigns", err)
		return
	}
	if list == nil {
		list = []models.Campaign{}
	}

	s.sendJSON(w, http.StatusOK, CampaignListResponse{Campaigns: list, Total: len(list)})
}

// handleCampaignStats handles GET /api/v1/campaigns/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	filter, ok := s.campaignFilter(w, r)
	if !ok {
		return
	}

	stats, err := s.deps.Campaigns.Stats(r.Context(), filter)
	if err != nil {
		s.sendOperationError(w, "campaign stats", err)
		return
	}

	s.sendJSON(w, http.StatusOK, stats)
}

// handlePhonesTemplate handles GET /api/v1/campaigns/phones-template
func (s *Server) handlePhonesTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="phones_template.csv"`)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, phones.CSVTemplate)
}

func (s *Server) campaignFilter(w http.ResponseWriter, r *http.Request) (models.CampaignListFilter, bool) {
	var filter models.CampaignListFilter

	if v := r.URL.Query().Get("send_type"); v != "" {
		st := models.SendType(v)
		if !st.Valid() {
			s.sendError(w, http.StatusBadRequest, "invalid send_type")
			return filter, false
		}
		filter.SendType = st
	}
	return filter, true
}
