package gateway

// Call names used in errors, logs and metrics
const (
	CallCampaignDispatch  = "campaignDispatch"
	CallCreateInstance    = "createInstance"
	CallConfirmConnection = "confirmConnection"
	CallRefreshQRCode     = "refreshQrCode"
)

// StatusConnected is the only confirmConnection answer that means online
const StatusConnected = "connected"

// CampaignPayload is the body posted to the campaign dispatch webhook
type CampaignPayload struct {
	InstanceName string   `json:"instanceName"`
	CampaignName string   `json:"campaignName"`
	Message      string   `json:"message"`
	Phones       []string `json:"phones"`
	Delay        int      `json:"delay"`
	SendType     string   `json:"sendType"`
	ImageURL     string   `json:"imageUrl,omitempty"`
}

// InstanceRequest is the body of the three instance webhooks
type InstanceRequest struct {
	InstanceName string `json:"instanceName"`
}

// ConnectionResponse is the confirmConnection answer
type ConnectionResponse struct {
	Status *string `json:"status"`
}

// errorResponse covers the error shapes automation engines reply with
type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
