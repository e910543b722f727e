// internal/app/automation_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/domain/salon"
	"salon_notification_engine/internal/infra/telemetry"
)

// Reply options attached to reminders. The first one is affirmative.
const (
	ReplyConfirm = "Sim, confirmo"
	ReplyDecline = "Não posso ir"
)

// Reminder dedup window: an appointment qualifies once it is between these
// distances from the sweep time, inclusive.
const (
	ReminderWindowStart = 22 * time.Hour
	ReminderWindowEnd   = 26 * time.Hour
)

const (
	sweepReminders = "reminders"
	sweepBirthdays = "birthdays"
	sweepLockTTL   = 30 * time.Minute
)

// AutomationService defines the operations triggered by business events and the scheduler.
type AutomationService interface {
	// HandleAppointmentCreated loads the appointment and sends its confirmation.
	HandleAppointmentCreated(ctx context.Context, appointmentID string) error
	SendConfirmation(ctx context.Context, apt *salon.Appointment) *notification.LedgerEntry
	SendReminder(ctx context.Context, apt *salon.Appointment) *notification.LedgerEntry
	SendBirthdayGreeting(ctx context.Context, client *salon.Client) *notification.LedgerEntry
	SweepReminders(ctx context.Context, now time.Time) (SweepReport, error)
	SweepBirthdays(ctx context.Context, today time.Time) (SweepReport, error)
}

// SweepLocker serializes sweeps across processes. Implementations return ok=false
// when another holder owns the lock.
type SweepLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock func(), ok bool, err error)
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
	NotReady   bool
}

// EngineSettings carries the tenant-local knobs of the engine.
type EngineSettings struct {
	Location *time.Location
	Now      func() time.Time
}

// outgoingMessage is validated before anything is handed to the gateway.
type outgoingMessage struct {
	Phone string `validate:"required,numeric"`
	Body  string `validate:"required"`
}

// AutomationEngine implements AutomationService.
type AutomationEngine struct {
	sessions     *SessionManager
	ledger       notification.Ledger
	appointments salon.AppointmentRepository
	clients      salon.ClientRepository
	locker       SweepLocker // may be nil
	metrics      *telemetry.Metrics
	logger       *logrus.Entry
	location     *time.Location
	now          func() time.Time
	validate     *validator.Validate

	reminderMu sync.Mutex
	birthdayMu sync.Mutex
}

func NewAutomationEngine(
	sessions *SessionManager,
	ledger notification.Ledger,
	appointments salon.AppointmentRepository,
	clients salon.ClientRepository,
	locker SweepLocker,
	metrics *telemetry.Metrics,
	logger *logrus.Entry,
	settings EngineSettings,
) *AutomationEngine {
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	now := settings.Now
	if now == nil {
		now = time.Now
	}
	return &AutomationEngine{
		sessions:     sessions,
		ledger:       ledger,
		appointments: appointments,
		clients:      clients,
		locker:       locker,
		metrics:      metrics,
		logger:       logger,
		location:     loc,
		now:          now,
		validate:     validator.New(),
	}
}

func (e *AutomationEngine) HandleAppointmentCreated(ctx context.Context, appointmentID string) error {
	apt, err := e.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("loading appointment %s: %w", appointmentID, err)
	}
	entry, err := e.sendConfirmation(ctx, apt)
	if err != nil {
		return err
	}
	if entry == nil {
		if _, _, ok := e.sessions.Ready(); !ok {
			return ErrGatewayNotReady
		}
	}
	return nil
}

// SendConfirmation sends the confirmation text for a newly created appointment.
// It returns the ledger entry written, or nil when nothing was attempted.
func (e *AutomationEngine) SendConfirmation(ctx context.Context, apt *salon.Appointment) *notification.LedgerEntry {
	entry, _ := e.sendConfirmation(ctx, apt)
	return entry
}

func (e *AutomationEngine) sendConfirmation(ctx context.Context, apt *salon.Appointment) (*notification.LedgerEntry, error) {
	cfg, handle, ok := e.sessions.Ready()
	if !ok {
		e.logNotReady(notification.KindConfirmation, apt.ID)
		return nil, nil
	}
	body := RenderTemplate(templateOrDefault(&cfg, notification.KindConfirmation), appointmentVars(&cfg, apt, e.location))
	entry := e.newEntry(notification.KindConfirmation, apt.ClientPhone, apt.ClientName, body)
	entry.AppointmentID = sql.NullString{String: apt.ID, Valid: apt.ID != ""}

	return e.deliver(ctx, entry, func(ctx context.Context) (gateway.DeliveryReceipt, error) {
		return e.sessions.Gateway().SendText(ctx, handle, entry.RecipientPhone, entry.Body)
	})
}

// SendReminder sends the interactive reminder with affirmative/negative reply options.
func (e *AutomationEngine) SendReminder(ctx context.Context, apt *salon.Appointment) *notification.LedgerEntry {
	entry, _ := e.sendReminder(ctx, apt)
	return entry
}

func (e *AutomationEngine) sendReminder(ctx context.Context, apt *salon.Appointment) (*notification.LedgerEntry, error) {
	cfg, handle, ok := e.sessions.Ready()
	if !ok {
		e.logNotReady(notification.KindReminder, apt.ID)
		return nil, nil
	}
	body := RenderTemplate(templateOrDefault(&cfg, notification.KindReminder), appointmentVars(&cfg, apt, e.location))
	entry := e.newEntry(notification.KindReminder, apt.ClientPhone, apt.ClientName, body)
	entry.AppointmentID = sql.NullString{String: apt.ID, Valid: apt.ID != ""}

	return e.deliver(ctx, entry, func(ctx context.Context) (gateway.DeliveryReceipt, error) {
		return e.sessions.Gateway().SendInteractive(ctx, handle, entry.RecipientPhone, entry.Body, []string{ReplyConfirm, ReplyDecline})
	})
}

// SendBirthdayGreeting sends the birthday message and marks the client as greeted this year.
func (e *AutomationEngine) SendBirthdayGreeting(ctx context.Context, client *salon.Client) *notification.LedgerEntry {
	entry, _ := e.sendBirthday(ctx, client, e.now().In(e.location).Year())
	return entry
}

func (e *AutomationEngine) sendBirthday(ctx context.Context, client *salon.Client, year int) (*notification.LedgerEntry, error) {
	cfg, handle, ok := e.sessions.Ready()
	if !ok {
		e.logNotReady(notification.KindBirthday, client.ID)
		return nil, nil
	}
	body := RenderTemplate(templateOrDefault(&cfg, notification.KindBirthday), birthdayVars(&cfg, client))
	entry := e.newEntry(notification.KindBirthday, client.Phone, client.Name, body)
	entry.ClientID = sql.NullString{String: client.ID, Valid: client.ID != ""}

	entry, err := e.deliver(ctx, entry, func(ctx context.Context) (gateway.DeliveryReceipt, error) {
		return e.sessions.Gateway().SendText(ctx, handle, entry.RecipientPhone, entry.Body)
	})
	if err != nil || entry == nil || entry.Status != notification.StatusSent {
		return entry, err
	}

	if err := e.clients.SetLastBirthdayNotificationYear(ctx, client.ID, year); err != nil {
		e.logger.WithError(err).WithField("client_id", client.ID).Error("Failed to record birthday notification year")
		return entry, nil
	}
	client.LastBirthdayNotificationYear = &year
	return entry, nil
}

// SweepReminders sends one reminder to every scheduled or confirmed appointment
// falling inside the reminder window that has no live reminder yet.
func (e *AutomationEngine) SweepReminders(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	release, err := e.acquire(ctx, sweepReminders, &e.reminderMu)
	if err != nil {
		return report, err
	}
	defer release()
	defer e.observeSweep(sweepReminders, time.Now())

	if _, _, ok := e.sessions.Ready(); !ok {
		report.NotReady = true
		e.logger.WithField("state", e.sessions.State()).Info("Reminder sweep skipped: gateway not ready or automation inactive")
		return report, nil
	}

	appointments, err := e.appointments.ListByStatuses(ctx, []salon.AppointmentStatus{salon.AppointmentScheduled, salon.AppointmentConfirmed})
	if err != nil {
		return report, fmt.Errorf("listing appointments for reminder sweep: %w", err)
	}

	for _, apt := range appointments {
		if !InReminderWindow(apt.ScheduledAt, now) {
			continue
		}
		report.Candidates++
		logCtx := e.logger.WithFields(logrus.Fields{"appointment_id": apt.ID, "scheduled_at": apt.ScheduledAt})

		exists, err := e.ledger.HasActiveEntry(ctx, apt.ID, notification.KindReminder)
		if err != nil {
			logCtx.WithError(err).Error("Failed to check ledger for existing reminder, skipping appointment")
			report.Failed++
			continue
		}
		if exists {
			logCtx.Debug("Reminder already recorded, skipping")
			report.Skipped++
			continue
		}

		report.add(e.sendReminder(ctx, apt))
	}

	e.logger.WithFields(logrus.Fields{
		"candidates": report.Candidates, "sent": report.Sent, "skipped": report.Skipped, "failed": report.Failed,
	}).Info("Reminder sweep finished")
	return report, nil
}

// SweepBirthdays greets every client whose birthday is today and who was not greeted this year.
func (e *AutomationEngine) SweepBirthdays(ctx context.Context, today time.Time) (SweepReport, error) {
	var report SweepReport
	release, err := e.acquire(ctx, sweepBirthdays, &e.birthdayMu)
	if err != nil {
		return report, err
	}
	defer release()
	defer e.observeSweep(sweepBirthdays, time.Now())

	if _, _, ok := e.sessions.Ready(); !ok {
		report.NotReady = true
		e.logger.WithField("state", e.sessions.State()).Info("Birthday sweep skipped: gateway not ready or automation inactive")
		return report, nil
	}

	clients, err := e.clients.ListWithBirthDate(ctx)
	if err != nil {
		return report, fmt.Errorf("listing clients for birthday sweep: %w", err)
	}

	local := today.In(e.location)
	year := local.Year()
	for _, c := range clients {
		if !c.IsBirthday(local) {
			continue
		}
		report.Candidates++
		if c.GreetedIn(year) {
			report.Skipped++
			continue
		}
		report.add(e.sendBirthday(ctx, c, year))
	}

	e.logger.WithFields(logrus.Fields{
		"candidates": report.Candidates, "sent": report.Sent, "skipped": report.Skipped, "failed": report.Failed,
	}).Info("Birthday sweep finished")
	return report, nil
}

// InReminderWindow reports whether an appointment at scheduledAt qualifies for a reminder at now.
func InReminderWindow(scheduledAt, now time.Time) bool {
	until := scheduledAt.Sub(now)
	return until >= ReminderWindowStart && until <= ReminderWindowEnd
}

// deliver reserves a ledger entry, performs the send and records the outcome.
// Gateway and validation errors end up in the ledger. The error return is only
// set when the entry could not be reserved, in which case nothing was sent.
func (e *AutomationEngine) deliver(
	ctx context.Context,
	entry *notification.LedgerEntry,
	send func(ctx context.Context) (gateway.DeliveryReceipt, error),
) (*notification.LedgerEntry, error) {
	logCtx := e.logger.WithFields(logrus.Fields{
		"kind":           entry.Kind,
		"entry_id":       entry.ID,
		"appointment_id": entry.AppointmentID.String,
		"client_id":      entry.ClientID.String,
	})

	if err := e.validate.Struct(outgoingMessage{Phone: entry.RecipientPhone, Body: entry.Body}); err != nil {
		verr := &ValidationError{Field: "message", Reason: err.Error()}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			verr = &ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		e.markFailed(entry, verr)
		if err := e.ledger.Create(ctx, entry); err != nil {
			logCtx.WithError(err).Error("Failed to record invalid message in ledger")
		}
		logCtx.WithError(verr).Warn("Message not sent: invalid input")
		e.count(entry)
		return entry, nil
	}

	if err := e.ledger.Create(ctx, entry); err != nil {
		if errors.Is(err, notification.ErrDuplicateEntry) {
			logCtx.Info("Live ledger entry already exists, not sending again")
			return nil, nil
		}
		logCtx.WithError(err).Error("Failed to reserve ledger entry, message not sent")
		return nil, fmt.Errorf("reserving %s ledger entry: %w", entry.Kind, err)
	}

	callCtx, cancel := e.sessions.WithTimeout(ctx)
	receipt, err := send(callCtx)
	cancel()

	if err != nil {
		if callCtx.Err() != nil && !errors.Is(err, gateway.ErrGatewayUnavailable) {
			err = gateway.NewSendFailed("gateway call timed out", 0, fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, err))
		}
		e.markFailed(entry, err)
		logCtx.WithError(err).Warn("Gateway send failed")
	} else {
		entry.Status = notification.StatusSent
		entry.SentAt = e.now()
		entry.GatewayMessageID = sql.NullString{String: receipt.GatewayMessageID, Valid: receipt.GatewayMessageID != ""}
		logCtx.WithField("gateway_message_id", receipt.GatewayMessageID).Info("Message sent")
	}

	if err := e.ledger.Update(ctx, entry); err != nil {
		logCtx.WithError(err).Error("Failed to record send outcome in ledger")
	}
	e.count(entry)
	return entry, nil
}

func (e *AutomationEngine) newEntry(kind notification.Kind, phone, name, body string) *notification.LedgerEntry {
	now := e.now()
	return &notification.LedgerEntry{
		ID:             uuid.New(),
		RecipientPhone: e.sessions.Gateway().NormalizePhone(phone),
		RecipientName:  name,
		Kind:           kind,
		Body:           body,
		Status:         notification.StatusQueued,
		SentAt:         now,
		UpdatedAt:      now,
	}
}

func (e *AutomationEngine) markFailed(entry *notification.LedgerEntry, err error) {
	entry.Status = notification.StatusFailed
	entry.FailureDetail = sql.NullString{String: err.Error(), Valid: true}
	entry.UpdatedAt = e.now()
}

// acquire takes the in-process sweep mutex and, when configured, the distributed lock.
func (e *AutomationEngine) acquire(ctx context.Context, name string, mu *sync.Mutex) (func(), error) {
	if !mu.TryLock() {
		e.logger.WithField("sweep", name).Info("Sweep still running, skipping this tick")
		return nil, ErrSweepInProgress
	}
	if e.locker == nil {
		return mu.Unlock, nil
	}

	unlock, ok, err := e.locker.TryLock(ctx, "sweep:"+name, sweepLockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("acquiring %s sweep lock: %w", name, err)
	}
	if !ok {
		mu.Unlock()
		e.logger.WithField("sweep", name).Info("Sweep running on another instance, skipping this tick")
		return nil, ErrSweepInProgress
	}
	return func() {
		unlock()
		mu.Unlock()
	}, nil
}

func (e *AutomationEngine) observeSweep(name string, started time.Time) {
	e.metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

func (e *AutomationEngine) count(entry *notification.LedgerEntry) {
	e.metrics.MessagesTotal.WithLabelValues(string(entry.Kind), string(entry.Status)).Inc()
}

func (e *AutomationEngine) logNotReady(kind notification.Kind, subjectID string) {
	e.logger.WithFields(logrus.Fields{"kind": kind, "subject_id": subjectID, "state": e.sessions.State()}).
		Debug("Send skipped: gateway not ready or automation inactive")
}

func (r *SweepReport) add(entry *notification.LedgerEntry, err error) {
	switch {
	case err != nil:
		r.Failed++
	case entry == nil:
		r.Skipped++
	case entry.Status == notification.StatusFailed:
		r.Failed++
	default:
		r.Sent++
	}
}
