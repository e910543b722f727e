// internal/domain/notification/repository.go
package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"salon_notification_engine/internal/domain/gateway"
)

var ErrLedgerEntryNotFound = errors.New("ledger entry not found")
var ErrConfigNotFound = errors.New("notification config not found")

// ErrDuplicateEntry is returned when the store refuses a second live reminder for the same appointment.
var ErrDuplicateEntry = errors.New("duplicate ledger entry (appointment_id, kind)")

// ErrStaleUpdate is returned when a conditional update would move an entry backwards.
var ErrStaleUpdate = errors.New("ledger entry already past this status")

// ListFilter narrows ledger history queries.
type ListFilter struct {
	Status *DeliveryStatus
	Kind   *Kind
	Limit  int
}

// Ledger is the append/query surface over the message log.
type Ledger interface {
	// Create fails with ErrDuplicateEntry when a live reminder already exists for the appointment.
	Create(ctx context.Context, entry *LedgerEntry) error
	// Update records the outcome of the send attempt that created entry.
	Update(ctx context.Context, entry *LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*LedgerEntry, error)
	GetByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*LedgerEntry, error)
	// HasActiveEntry reports whether a non-failed entry of kind exists for the appointment.
	HasActiveEntry(ctx context.Context, appointmentID string, kind Kind) (bool, error)
	// Advance persists entry's status/reply fields only if the stored status ranks
	// at or below entry.Status. Returns ErrStaleUpdate otherwise.
	Advance(ctx context.Context, entry *LedgerEntry) error
	List(ctx context.Context, filter ListFilter) ([]*LedgerEntry, error)
}

// ConfigRepository loads and stores the tenant's NotificationConfig.
type ConfigRepository interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
	UpdateStatus(ctx context.Context, tenantID string, status gateway.ConnectionState) error
}
