// Package evolution adapts an Evolution-API-style WhatsApp gateway to gateway.Client.
package evolution

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"salon_notification_engine/internal/domain/gateway"
)

const maxResponseBytes = 1 << 20

// Client talks to the gateway's REST API. It never retries; callers decide.
type Client struct {
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	defaultArea string
	logger      *logrus.Entry
}

// NewClient creates an adapter whose HTTP calls give up after timeout.
func NewClient(timeout time.Duration, defaultArea string, logger *logrus.Entry) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		cb:          newBreaker("evolution-gateway"),
		defaultArea: defaultArea,
		logger:      logger,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     1 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= 3
		},
		// Only provider outages trip the breaker; rejected numbers or credentials do not.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, gateway.ErrGatewayUnavailable)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

type instanceState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

type connectResponse struct {
	PairingCode string `json:"pairingCode"`
	Code        string `json:"code"`
	Base64      string `json:"base64"`
	instanceState
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type apiResponse struct {
	status int
	body   []byte
}

func (r *apiResponse) ok() bool { return r.status >= 200 && r.status < 300 }

func (c *Client) CreateSession(ctx context.Context, cfg gateway.SessionConfig) (gateway.SessionHandle, error) {
	payload := map[string]interface{}{
		"instanceName": cfg.SessionID,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	if cfg.WebhookURL != "" {
		payload["webhook"] = map[string]interface{}{
			"url":      cfg.WebhookURL,
			"byEvents": false,
			"events":   []string{"MESSAGES_UPSERT", "MESSAGES_UPDATE", "CONNECTION_UPDATE"},
		}
	}
	handle := gateway.SessionHandle{SessionID: cfg.SessionID, BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}

	resp, err := c.call(ctx, http.MethodPost, handle, "/instance/create", payload)
	if err != nil {
		// The provider answers 403 for a name that already exists.
		if errors.Is(err, gateway.ErrGatewayRejected) && resp != nil && bytes.Contains(bytes.ToLower(resp.body), []byte("already in use")) {
			c.logger.WithField("session_id", cfg.SessionID).Debug("Gateway session already exists, reusing it")
			return handle, nil
		}
		return gateway.SessionHandle{}, err
	}
	if !resp.ok() {
		return gateway.SessionHandle{}, fmt.Errorf("creating session: gateway returned HTTP %d", resp.status)
	}
	return handle, nil
}

func (c *Client) Connect(ctx context.Context, h gateway.SessionHandle) (*gateway.ConnectionTicket, error) {
	resp, err := c.call(ctx, http.MethodGet, h, "/instance/connect/"+h.SessionID, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, fmt.Errorf("connecting session: gateway returned HTTP %d", resp.status)
	}

	var result connectResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, fmt.Errorf("decoding connect response: %w", err)
	}
	ticket := &gateway.ConnectionTicket{PairingCode: result.PairingCode, IssuedAt: time.Now()}
	if result.Base64 != "" {
		png, err := decodeDataURI(result.Base64)
		if err != nil {
			c.logger.WithError(err).Warn("Gateway returned an undecodable QR code")
		} else {
			ticket.QRCode = png
		}
	}
	return ticket, nil
}

func (c *Client) Status(ctx context.Context, h gateway.SessionHandle) (gateway.ConnectionState, error) {
	resp, err := c.call(ctx, http.MethodGet, h, "/instance/connectionState/"+h.SessionID, nil)
	if err != nil {
		return gateway.StateError, err
	}
	if resp.status == http.StatusNotFound {
		return gateway.StateDisconnected, nil
	}
	if !resp.ok() {
		return gateway.StateError, fmt.Errorf("polling status: gateway returned HTTP %d", resp.status)
	}

	var result instanceState
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return gateway.StateError, fmt.Errorf("decoding status response: %w", err)
	}
	return mapState(result.Instance.State), nil
}

func (c *Client) SendText(ctx context.Context, h gateway.SessionHandle, phone, body string) (gateway.DeliveryReceipt, error) {
	payload := map[string]interface{}{
		"number": phone,
		"text":   body,
	}
	return c.send(ctx, h, "/message/sendText/"+h.SessionID, payload)
}

func (c *Client) SendInteractive(ctx context.Context, h gateway.SessionHandle, phone, body string, options []string) (gateway.DeliveryReceipt, error) {
	buttons := make([]map[string]string, len(options))
	for i, opt := range options {
		buttons[i] = map[string]string{
			"type":        "reply",
			"displayText": opt,
			"id":          fmt.Sprintf("option-%d", i+1),
		}
	}
	payload := map[string]interface{}{
		"number":      phone,
		"title":       "",
		"description": body,
		"footer":      "",
		"buttons":     buttons,
	}
	return c.send(ctx, h, "/message/sendButtons/"+h.SessionID, payload)
}

func (c *Client) Disconnect(ctx context.Context, h gateway.SessionHandle) error {
	return c.remove(ctx, h, "/instance/logout/"+h.SessionID)
}

func (c *Client) DeleteSession(ctx context.Context, h gateway.SessionHandle) error {
	return c.remove(ctx, h, "/instance/delete/"+h.SessionID)
}

func (c *Client) NormalizePhone(raw string) string {
	return gateway.NormalizePhone(raw, c.defaultArea)
}

func (c *Client) send(ctx context.Context, h gateway.SessionHandle, path string, payload interface{}) (gateway.DeliveryReceipt, error) {
	resp, err := c.call(ctx, http.MethodPost, h, path, payload)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.status
		}
		return gateway.DeliveryReceipt{}, gateway.NewSendFailed(err.Error(), status, err)
	}
	if !resp.ok() {
		return gateway.DeliveryReceipt{}, gateway.NewSendFailed(
			fmt.Sprintf("gateway returned HTTP %d: %s", resp.status, snippet(resp.body)), resp.status, nil)
	}

	var result sendResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return gateway.DeliveryReceipt{}, gateway.NewSendFailed("undecodable send response", resp.status, err)
	}
	if result.Key.ID == "" {
		return gateway.DeliveryReceipt{}, gateway.NewSendFailed("send response carried no message id", resp.status, nil)
	}
	return gateway.DeliveryReceipt{GatewayMessageID: result.Key.ID}, nil
}

// remove treats a missing session as already removed.
func (c *Client) remove(ctx context.Context, h gateway.SessionHandle, path string) error {
	resp, err := c.call(ctx, http.MethodDelete, h, path, nil)
	if err != nil {
		return err
	}
	if resp.ok() || resp.status == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("gateway returned HTTP %d for %s", resp.status, path)
}

// call performs one request through the circuit breaker. Unavailability and
// credential rejection come back as errors; other statuses are left to the caller.
// When the provider did answer, its response is returned alongside the error.
func (c *Client) call(ctx context.Context, method string, h gateway.SessionHandle, path string, payload interface{}) (*apiResponse, error) {
	var reqBody io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		reqBody = bytes.NewReader(body)
	}

	url := strings.TrimRight(h.BaseURL, "/") + path
	logCtx := c.logger.WithFields(logrus.Fields{"method": method, "path": path})

	var last *apiResponse
	result, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("apikey", h.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: calling gateway: %v", gateway.ErrGatewayUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: reading gateway response: %v", gateway.ErrGatewayUnavailable, err)
		}
		out := &apiResponse{status: resp.StatusCode, body: body}
		last = out

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: gateway returned HTTP %d", gateway.ErrGatewayUnavailable, resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: gateway returned HTTP %d", gateway.ErrGatewayRejected, resp.StatusCode)
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, err)
		}
		logCtx.WithError(err).Debug("Gateway call failed")
		return last, err
	}
	return result.(*apiResponse), nil
}

func mapState(providerState string) gateway.ConnectionState {
	switch strings.ToLower(providerState) {
	case "open":
		return gateway.StateConnected
	case "connecting":
		return gateway.StateConnecting
	case "close", "closed":
		return gateway.StateDisconnected
	default:
		return gateway.StateError
	}
}

// decodeDataURI accepts "data:image/png;base64,...." or bare base64.
func decodeDataURI(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	return base64.StdEncoding.DecodeString(s)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
