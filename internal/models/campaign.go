package models

import "time"

// SendType is the kind of content a campaign carries
type SendType string

const (
	SendTypeText      SendType = "text"
	SendTypeImage     SendType = "image"
	SendTypeImageText SendType = "image_text"
)

// Valid reports whether t is a known send type
func (t SendType) Valid() bool {
	switch t {
	case SendTypeText, SendTypeImage, SendTypeImageText:
		return true
	}
	return false
}

// HasImage reports whether the send type needs an image URL
func (t SendType) HasImage() bool {
	return t == SendTypeImage || t == SendTypeImageText
}

// CampaignStatus is the persisted status of a campaign record
type CampaignStatus string

const (
	CampaignPending CampaignStatus = "pending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
)

// MaxMessageLength is the longest message body accepted, in characters
const MaxMessageLength = 1000

// DefaultDelaySeconds is the delay between messages when none is given
const DefaultDelaySeconds = 3

// Campaign is a persisted campaign record. The recipient list itself is not
// stored, only its size.
type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Message      string         `json:"message"`
	InstanceName string         `json:"instance_name"`
	SendType     SendType       `json:"send_type"`
	ImageURL     string         `json:"image_url,omitempty"`
	PhoneCount   int            `json:"phone_count"`
	DelaySeconds int            `json:"delay_seconds"`
	Status       CampaignStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CampaignDraft is operator input before validation
type CampaignDraft struct {
	Name         string   `json:"name"`
	Message      string   `json:"message"`
	InstanceName string   `json:"instance_name"`
	SendType     SendType `json:"send_type"`
	ImageURL     string   `json:"image_url"`
	DelaySeconds int      `json:"delay_seconds"`
	RawPhones    string   `json:"phones"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	SendType SendType
}

// CampaignStats is an aggregate over a campaign list
type CampaignStats struct {
	Total       int                    `json:"total"`
	BySendType  map[SendType]int       `json:"by_send_type"`
	ByStatus    map[CampaignStatus]int `json:"by_status"`
	TotalPhones int                    `json:"total_phones"`
	LastCreated *time.Time             `json:"last_created_at,omitempty"`
}

// ComputeCampaignStats folds a campaign list into its aggregate
func ComputeCampaignStats(campaigns []Campaign) *CampaignStats {
	stats := &CampaignStats{
		BySendType: map[SendType]int{
			SendTypeText:      0,
			SendTypeImage:     0,
			SendTypeImageText: 0,
		},
		ByStatus: map[CampaignStatus]int{
			CampaignPending: 0,
			CampaignSent:    0,
			CampaignFailed:  0,
		},
	}

	for _, c := range campaigns {
		stats.Total++
		stats.BySendType[c.SendType]++
		stats.ByStatus[c.Status]++
		stats.TotalPhones += c.PhoneCount
		if stats.LastCreated == nil || c.CreatedAt.After(*stats.LastCreated) {
			created := c.CreatedAt
			stats.LastCreated = &created
		}
	}

	return stats
}
