package models

import "time"

// InstanceStatus is the persisted connection status of a gateway instance
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceConnected InstanceStatus = "connected"
)

// Online reports whether the status means a confirmed connection
func (s InstanceStatus) Online() bool {
	return s == InstanceConnected
}

// Instance is a messaging gateway session identified by its name
type Instance struct {
	Name      string         `json:"name"`
	Status    InstanceStatus `json:"status"`
	QRCode    []byte         `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasQRCode reports whether a pairing image is stored for the instance
func (i *Instance) HasQRCode() bool {
	return len(i.QRCode) > 0
}
