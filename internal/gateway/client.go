// Package gateway is the HTTP client for the automation engine webhooks that
// dispatch campaigns and manage messaging instances.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/wacampaign/internal/apperrors"
	"github.com/foxzi/wacampaign/internal/config"
	"github.com/foxzi/wacampaign/internal/metrics"
)

// maxBodySize caps how much of a webhook answer is read
const maxBodySize = 10 << 20

// Client posts JSON to the configured webhooks
type Client struct {
	urls       config.WebhooksConfig
	httpClient *http.Client
}

// NewClient creates a webhook client. A zero timeout means calls wait until
// the context is done.
func NewClient(cfg config.WebhooksConfig) *Client {
	return &Client{
		urls: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// DispatchCampaign hands a campaign to the automation engine
func (c *Client) DispatchCampaign(ctx context.Context, payload *CampaignPayload) error {
	_, _, err := c.post(ctx, CallCampaignDispatch, c.urls.CampaignDispatch, payload)
	return err
}

// CreateInstance registers a new instance and returns its first QR code image
func (c *Client) CreateInstance(ctx context.Context, name string) ([]byte, error) {
	return c.image(ctx, CallCreateInstance, c.urls.CreateInstance, name)
}

// RefreshQRCode asks for a fresh pairing image
func (c *Client) RefreshQRCode(ctx context.Context, name string) ([]byte, error) {
	return c.image(ctx, CallRefreshQRCode, c.urls.RefreshQRCode, name)
}

// ConfirmConnection returns the status string reported for the instance
func (c *Client) ConfirmConnection(ctx context.Context, name string) (string, error) {
	body, _, err := c.post(ctx, CallConfirmConnection, c.urls.ConfirmConnection, &InstanceRequest{InstanceName: name})
	if err != nil {
		return "", err
	}

	var resp ConnectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &apperrors.ParseError{Call: CallConfirmConnection, Detail: "body is not JSON"}
	}
	if resp.Status == nil {
		return "", &apperrors.ParseError{Call: CallConfirmConnection, Detail: "missing status field"}
	}
	return *resp.Status, nil
}

func (c *Client) image(ctx context.Context, call, url, name string) ([]byte, error) {
	body, contentType, err := c.post(ctx, call, url, &InstanceRequest{InstanceName: name})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, &apperrors.ParseError{Call: call, Detail: "empty body"}
	}
	if !isImage(contentType, body) {
		return nil, &apperrors.ParseError{Call: call, Detail: fmt.Sprintf("expected image, got %q", contentType)}
	}
	return body, nil
}

// post performs a webhook request and returns the raw body of a 2xx answer
func (c *Client) post(ctx context.Context, call, url string, payload any) ([]byte, string, error) {
	start := time.Now()
	body, contentType, err := c.do(ctx, call, url, payload)
	metrics.ObserveGatewayCall(call, err, time.Since(start))
	return body, contentType, err
}

func (c *Client) do(ctx context.Context, call, url string, payload any) ([]byte, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, "", &apperrors.GatewayError{Call: call, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.urls.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &apperrors.GatewayError{Call: call, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, "", &apperrors.GatewayError{Call: call, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &apperrors.GatewayError{
			Call:       call,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	if len(body) > maxBodySize {
		return nil, "", &apperrors.ParseError{Call: call, Detail: fmt.Sprintf("response body exceeds %d bytes", maxBodySize)}
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// errorMessage pulls a human readable message out of an error body
func errorMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	if errResp.Message != "" {
		return errResp.Message
	}
	return errResp.Error
}

func isImage(contentType string, body []byte) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mediaType, "image/") {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(body), "image/")
}
