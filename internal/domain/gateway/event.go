package gateway

import "time"

// EventKind discriminates inbound gateway callbacks.
type EventKind string

const (
	EventStatusUpdate   EventKind = "status_update"
	EventInboundMessage EventKind = "inbound_message"
	EventUnknown        EventKind = "unknown"
)

// ReceiptStatus is a normalized delivery code carried by a status update.
type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "sent"
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
	ReceiptOther     ReceiptStatus = "other"
)

// Event is a provider callback after the adapter stripped its payload shape.
type Event struct {
	Kind             EventKind
	GatewayMessageID string
	Status           ReceiptStatus
	Text             string
	FromPhone        string
	ReceivedAt       time.Time
}
