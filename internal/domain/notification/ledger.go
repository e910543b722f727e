// internal/domain/notification/ledger.go
package notification

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// LedgerEntry records one notification attempt and its delivery lifecycle.
// Corresponds to the 'message_log' table.
type LedgerEntry struct {
	ID               uuid.UUID
	AppointmentID    sql.NullString // set for confirmation and reminder
	ClientID         sql.NullString // set for birthday
	RecipientPhone   string
	RecipientName    string
	Kind             Kind
	Body             string
	Status           DeliveryStatus
	SentAt           time.Time
	GatewayMessageID sql.NullString // correlation key for webhooks
	ReplyText        sql.NullString
	RepliedAt        sql.NullTime
	FailureDetail    sql.NullString
	UpdatedAt        time.Time
}

// IsReminderFor reports whether e is a reminder for appointmentID that still counts
// towards the one-reminder-per-appointment rule.
func (e *LedgerEntry) IsReminderFor(appointmentID string) bool {
	return e.Kind == KindReminder &&
		e.AppointmentID.Valid && e.AppointmentID.String == appointmentID &&
		e.Status != StatusFailed
}
