package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/domain/salon"
	"salon_notification_engine/internal/infra/telemetry"
)

// Outcome describes what a webhook event did.
type Outcome string

const (
	OutcomeDropped   Outcome = "dropped"   // no correlation id or no matching ledger entry
	OutcomeIgnored   Outcome = "ignored"   // unknown kind or status code
	OutcomeStale     Outcome = "stale"     // would move the entry backwards
	OutcomeDuplicate Outcome = "duplicate" // identical to what is already recorded
	OutcomeAdvanced  Outcome = "advanced"
	OutcomeReplied   Outcome = "replied"
	OutcomeConfirmed Outcome = "confirmed"
)

// affirmativeTokens confirm an appointment when found anywhere in a reminder reply.
var affirmativeTokens = []string{"sim", "confirmo", "confirmado", "confirmar", "yes"}

// IsAffirmative reports whether a free-text reply reads as a yes.
func IsAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, token := range affirmativeTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// WebhookReconciler applies gateway callbacks to the ledger and, for replies, to appointments.
type WebhookReconciler struct {
	ledger       notification.Ledger
	appointments salon.AppointmentRepository
	metrics      *telemetry.Metrics
	logger       *logrus.Entry
	now          func() time.Time
}

func NewWebhookReconciler(
	ledger notification.Ledger,
	appointments salon.AppointmentRepository,
	metrics *telemetry.Metrics,
	logger *logrus.Entry,
	now func() time.Time,
) *WebhookReconciler {
	if now == nil {
		now = time.Now
	}
	return &WebhookReconciler{ledger: ledger, appointments: appointments, metrics: metrics, logger: logger, now: now}
}

// Handle reconciles one event. Only storage failures are returned as errors.
func (r *WebhookReconciler) Handle(ctx context.Context, event gateway.Event) (Outcome, error) {
	outcome, err := r.handle(ctx, event)
	r.metrics.WebhookEventsTotal.WithLabelValues(string(event.Kind), string(outcome)).Inc()
	return outcome, err
}

func (r *WebhookReconciler) handle(ctx context.Context, event gateway.Event) (Outcome, error) {
	logCtx := r.logger.WithFields(logrus.Fields{"event_kind": event.Kind, "gateway_message_id": event.GatewayMessageID})

	if event.Kind != gateway.EventStatusUpdate && event.Kind != gateway.EventInboundMessage {
		logCtx.Debug("Ignoring unknown webhook event kind")
		return OutcomeIgnored, nil
	}
	if event.GatewayMessageID == "" {
		logCtx.Debug("Dropping webhook event without correlation id")
		return OutcomeDropped, nil
	}

	entry, err := r.ledger.GetByGatewayMessageID(ctx, event.GatewayMessageID)
	if err != nil {
		if errors.Is(err, notification.ErrLedgerEntryNotFound) {
			logCtx.Info("No ledger entry for webhook event, dropping")
			return OutcomeDropped, nil
		}
		return "", fmt.Errorf("looking up ledger entry %s: %w", event.GatewayMessageID, err)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"entry_id": entry.ID, "kind": entry.Kind, "status": entry.Status})

	if event.Kind == gateway.EventStatusUpdate {
		return r.applyReceipt(ctx, entry, event, logCtx)
	}
	return r.applyReply(ctx, entry, event, logCtx)
}

func (r *WebhookReconciler) applyReceipt(ctx context.Context, entry *notification.LedgerEntry, event gateway.Event, logCtx *logrus.Entry) (Outcome, error) {
	var next notification.DeliveryStatus
	switch event.Status {
	case gateway.ReceiptDelivered:
		next = notification.StatusDelivered
	case gateway.ReceiptRead:
		next = notification.StatusRead
	default:
		logCtx.WithField("receipt", event.Status).Debug("Ignoring receipt code")
		return OutcomeIgnored, nil
	}

	if !entry.Status.CanAdvanceTo(next) {
		logCtx.WithField("receipt", next).Debug("Receipt would not move the entry forward, ignoring")
		return OutcomeStale, nil
	}

	entry.Status = next
	entry.UpdatedAt = r.now()
	if err := r.ledger.Advance(ctx, entry); err != nil {
		if errors.Is(err, notification.ErrStaleUpdate) {
			return OutcomeStale, nil
		}
		return "", fmt.Errorf("advancing ledger entry %s to %s: %w", entry.ID, next, err)
	}
	logCtx.WithField("new_status", next).Info("Ledger entry advanced")
	return OutcomeAdvanced, nil
}

func (r *WebhookReconciler) applyReply(ctx context.Context, entry *notification.LedgerEntry, event gateway.Event, logCtx *logrus.Entry) (Outcome, error) {
	text := strings.TrimSpace(event.Text)

	if entry.Status == notification.StatusFailed {
		logCtx.Warn("Reply correlated to a failed message, ignoring")
		return OutcomeIgnored, nil
	}
	if entry.Status == notification.StatusReplied && entry.ReplyText.Valid && entry.ReplyText.String == text {
		logCtx.Debug("Reply already recorded")
		if !confirmsAppointment(entry, text) {
			return OutcomeDuplicate, nil
		}
		// A redelivered reply retries a confirmation whose store write failed earlier.
		outcome, err := r.confirmAppointment(ctx, entry.AppointmentID.String, logCtx)
		if err != nil || outcome == OutcomeConfirmed {
			return outcome, err
		}
		return OutcomeDuplicate, nil
	}

	repliedAt := event.ReceivedAt
	if repliedAt.IsZero() {
		repliedAt = r.now()
	}
	entry.Status = notification.StatusReplied
	entry.ReplyText = sql.NullString{String: text, Valid: true}
	entry.RepliedAt = sql.NullTime{Time: repliedAt, Valid: true}
	entry.UpdatedAt = r.now()
	if err := r.ledger.Advance(ctx, entry); err != nil {
		if errors.Is(err, notification.ErrStaleUpdate) {
			return OutcomeStale, nil
		}
		return "", fmt.Errorf("recording reply on ledger entry %s: %w", entry.ID, err)
	}
	logCtx.Info("Reply recorded")

	if !confirmsAppointment(entry, text) {
		return OutcomeReplied, nil
	}
	return r.confirmAppointment(ctx, entry.AppointmentID.String, logCtx)
}

// confirmsAppointment reports whether reply text on entry should confirm its appointment.
func confirmsAppointment(entry *notification.LedgerEntry, text string) bool {
	return entry.Kind == notification.KindReminder && entry.AppointmentID.Valid && IsAffirmative(text)
}

func (r *WebhookReconciler) confirmAppointment(ctx context.Context, appointmentID string, logCtx *logrus.Entry) (Outcome, error) {
	logCtx = logCtx.WithField("appointment_id", appointmentID)

	apt, err := r.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, salon.ErrAppointmentNotFound) {
			logCtx.Warn("Appointment for affirmative reply no longer exists")
			return OutcomeReplied, nil
		}
		return "", fmt.Errorf("loading appointment %s: %w", appointmentID, err)
	}

	switch apt.Status {
	case salon.AppointmentConfirmed:
		logCtx.Debug("Appointment already confirmed")
		return OutcomeReplied, nil
	case salon.AppointmentScheduled:
	default:
		logCtx.WithField("appointment_status", apt.Status).Info("Affirmative reply for an appointment that is no longer scheduled, leaving status as is")
		return OutcomeReplied, nil
	}

	if err := r.appointments.UpdateStatus(ctx, appointmentID, salon.AppointmentConfirmed); err != nil {
		return "", fmt.Errorf("confirming appointment %s: %w", appointmentID, err)
	}
	logCtx.Info("Appointment confirmed by client reply")
	return OutcomeConfirmed, nil
}
