// Package gateway defines the contract between the automation engine and a
// chat-messaging provider. Provider-specific adapters live under internal/infra/gateway.
package gateway

import (
	"context"
	"time"
)

// ConnectionState is the pairing/connection state of a gateway session.
type ConnectionState string

const (
	StateDisconnected    ConnectionState = "disconnected"
	StateAwaitingPairing ConnectionState = "awaiting_pairing"
	StateConnecting      ConnectionState = "connecting"
	StateConnected       ConnectionState = "connected"
	StateError           ConnectionState = "error"
)

// Valid reports whether s is one of the known states.
func (s ConnectionState) Valid() bool {
	switch s {
	case StateDisconnected, StateAwaitingPairing, StateConnecting, StateConnected, StateError:
		return true
	}
	return false
}

// SessionConfig carries what an adapter needs to address a tenant's session.
type SessionConfig struct {
	SessionID  string
	BaseURL    string
	APIKey     string
	WebhookURL string
}

// SessionHandle identifies a provider-side session.
type SessionHandle struct {
	SessionID string
	BaseURL   string
	APIKey    string
}

// ConnectionTicket is what a connect call hands back for pairing.
// QRCode holds a PNG image when the provider returned one.
type ConnectionTicket struct {
	PairingCode string
	QRCode      []byte
	IssuedAt    time.Time
}

// DeliveryReceipt is the provider's acknowledgement of an accepted message.
type DeliveryReceipt struct {
	GatewayMessageID string
}

// Client defines an interface for a chat-messaging gateway.
// Implementations must not retry send operations internally.
type Client interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
	Connect(ctx context.Context, session SessionHandle) (*ConnectionTicket, error)
	// Status is the only way to learn that pairing completed; callers poll it.
	Status(ctx context.Context, session SessionHandle) (ConnectionState, error)
	SendText(ctx context.Context, session SessionHandle, phone, body string) (DeliveryReceipt, error)
	SendInteractive(ctx context.Context, session SessionHandle, phone, body string, options []string) (DeliveryReceipt, error)
	Disconnect(ctx context.Context, session SessionHandle) error
	DeleteSession(ctx context.Context, session SessionHandle) error
	NormalizePhone(raw string) string
}
