package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/domain/salon"
)

var sweepNow = time.Date(2026, time.October, 16, 10, 0, 0, 0, time.UTC)

func appointmentAt(id string, at time.Time) *salon.Appointment {
	return &salon.Appointment{
		ID:               id,
		ClientID:         "client-" + id,
		ClientName:       "Maria Souza",
		ClientPhone:      "(11) 98765-4321",
		ScheduledAt:      at,
		ServiceName:      "Corte",
		Price:            120,
		ProfessionalName: "Joana",
		Status:           salon.AppointmentScheduled,
	}
}

func (h *testHarness) addAppointment(a *salon.Appointment) {
	h.appointments.mu.Lock()
	defer h.appointments.mu.Unlock()
	h.appointments.appointments[a.ID] = a
}

func (h *testHarness) addClient(c *salon.Client) {
	h.clients.mu.Lock()
	defer h.clients.mu.Unlock()
	h.clients.clients[c.ID] = c
}

func TestSendConfirmation_Success(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	apt := appointmentAt("apt-1", sweepNow.Add(72*time.Hour))

	entry := h.engine.SendConfirmation(context.Background(), apt)

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusSent, entry.Status)
	assert.Equal(t, notification.KindConfirmation, entry.Kind)
	assert.Equal(t, "5511987654321", entry.RecipientPhone)
	assert.Equal(t, "wamid-1", entry.GatewayMessageID.String)
	assert.Equal(t, "apt-1", entry.AppointmentID.String)
	assert.Contains(t, entry.Body, "Maria")
	assert.Contains(t, entry.Body, "19/10/2026")

	stored, err := h.ledger.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status)
	assert.Len(t, h.gw.texts, 1)
}

func TestSendConfirmation_GatewayFailureRecorded(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.gw.sendErr = gateway.NewSendFailed("number not on whatsapp", 400, nil)

	entry := h.engine.SendConfirmation(context.Background(), appointmentAt("apt-1", sweepNow.Add(48*time.Hour)))

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusFailed, entry.Status)
	assert.True(t, entry.FailureDetail.Valid)
	assert.Contains(t, entry.FailureDetail.String, "number not on whatsapp")
	assert.False(t, entry.GatewayMessageID.Valid)

	stored, err := h.ledger.GetByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, stored.Status)
}

func TestSendConfirmation_InvalidPhoneRecordedAsValidationFailure(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	apt := appointmentAt("apt-1", sweepNow.Add(48*time.Hour))
	apt.ClientPhone = ""

	entry := h.engine.SendConfirmation(context.Background(), apt)

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusFailed, entry.Status)
	assert.Contains(t, entry.FailureDetail.String, "validation failed")
	assert.Zero(t, h.gw.sentCount())
	assert.Len(t, h.ledger.byKind(notification.KindConfirmation), 1)
}

func TestSendConfirmation_TimeoutRecordedAsFailure(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.sessions.timeout = 20 * time.Millisecond
	h.gw.sendDelay = time.Second

	entry := h.engine.SendConfirmation(context.Background(), appointmentAt("apt-1", sweepNow.Add(48*time.Hour)))

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusFailed, entry.Status)
}

func TestSends_NoOpWhenInactiveOrDisconnected(t *testing.T) {
	inactive := testConfig()
	inactive.Active = false
	disconnected := testConfig()
	disconnected.Status = gateway.StateAwaitingPairing

	for name, cfg := range map[string]notification.Config{"inactive": inactive, "not connected": disconnected} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(cfg, sweepNow)
			apt := appointmentAt("apt-1", sweepNow.Add(24*time.Hour))
			h.addAppointment(apt)

			assert.Nil(t, h.engine.SendConfirmation(context.Background(), apt))
			assert.Nil(t, h.engine.SendReminder(context.Background(), apt))
			assert.Nil(t, h.engine.SendBirthdayGreeting(context.Background(), &salon.Client{ID: "c1", Phone: "11987654321"}))

			report, err := h.engine.SweepReminders(context.Background(), sweepNow)
			require.NoError(t, err)
			assert.True(t, report.NotReady)

			assert.Zero(t, h.gw.sentCount())
			entries, _ := h.ledger.List(context.Background(), notification.ListFilter{})
			assert.Empty(t, entries)
		})
	}
}

func TestSendReminder_UsesInteractiveOptions(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)

	entry := h.engine.SendReminder(context.Background(), appointmentAt("apt-1", sweepNow.Add(24*time.Hour)))

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusSent, entry.Status)
	require.Len(t, h.gw.interactive, 1)
	assert.Equal(t, []string{ReplyConfirm, ReplyDecline}, h.gw.interactive[0].Options)
	assert.True(t, IsAffirmative(h.gw.interactive[0].Options[0]))
	assert.False(t, IsAffirmative(h.gw.interactive[0].Options[1]))
}

func TestInReminderWindow(t *testing.T) {
	tests := []struct {
		name  string
		until time.Duration
		want  bool
	}{
		{"21h59m", 21*time.Hour + 59*time.Minute, false},
		{"22h00m", 22 * time.Hour, true},
		{"24h", 24 * time.Hour, true},
		{"26h00m", 26 * time.Hour, true},
		{"26h01m", 26*time.Hour + time.Minute, false},
		{"past", -time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InReminderWindow(sweepNow.Add(tt.until), sweepNow))
		})
	}
}

func TestSweepReminders_SelectsWindowAndStatuses(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	tooEarly := appointmentAt("apt-early", sweepNow.Add(21*time.Hour+59*time.Minute))
	atStart := appointmentAt("apt-start", sweepNow.Add(22*time.Hour))
	confirmed := appointmentAt("apt-confirmed", sweepNow.Add(25*time.Hour))
	confirmed.Status = salon.AppointmentConfirmed
	tooLate := appointmentAt("apt-late", sweepNow.Add(26*time.Hour+time.Minute))
	canceled := appointmentAt("apt-canceled", sweepNow.Add(24*time.Hour))
	canceled.Status = salon.AppointmentCanceled
	for _, a := range []*salon.Appointment{tooEarly, atStart, confirmed, tooLate, canceled} {
		h.addAppointment(a)
	}

	report, err := h.engine.SweepReminders(context.Background(), sweepNow)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Sent)
	reminders := h.ledger.byKind(notification.KindReminder)
	require.Len(t, reminders, 2)
	ids := []string{reminders[0].AppointmentID.String, reminders[1].AppointmentID.String}
	assert.ElementsMatch(t, []string{"apt-start", "apt-confirmed"}, ids)
}

func TestSweepReminders_TwiceSendsOnce(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(24*time.Hour)))

	first, err := h.engine.SweepReminders(context.Background(), sweepNow)
	require.NoError(t, err)
	second, err := h.engine.SweepReminders(context.Background(), sweepNow.Add(30*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 1, h.gw.sentCount())
	assert.Len(t, h.ledger.byKind(notification.KindReminder), 1)
}

func TestSweepReminders_RetriesAfterFailedReminder(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(25*time.Hour)))
	h.gw.sendErr = gateway.NewSendFailed("provider returned 500", 500, gateway.ErrGatewayUnavailable)

	first, err := h.engine.SweepReminders(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)

	h.gw.sendErr = nil
	second, err := h.engine.SweepReminders(context.Background(), sweepNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Sent)

	var live int
	for _, e := range h.ledger.byKind(notification.KindReminder) {
		if e.Status != notification.StatusFailed {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestSweepReminders_OverlappingSweepsNeverDoubleSend(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.gw.sendDelay = 20 * time.Millisecond
	for _, id := range []string{"apt-1", "apt-2", "apt-3"} {
		h.addAppointment(appointmentAt(id, sweepNow.Add(23*time.Hour)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.engine.SweepReminders(context.Background(), sweepNow)
		}()
	}
	wg.Wait()
	_, err := h.engine.SweepReminders(context.Background(), sweepNow)
	require.NoError(t, err)

	assert.Equal(t, 3, h.gw.sentCount())
	assert.Len(t, h.ledger.byKind(notification.KindReminder), 3)
}

func TestSweepReminders_SkipsWhileAnotherSweepRuns(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.engine.reminderMu.Lock()
	defer h.engine.reminderMu.Unlock()

	_, err := h.engine.SweepReminders(context.Background(), sweepNow)
	assert.ErrorIs(t, err, ErrSweepInProgress)
}

func TestSweepReminders_OneFailureDoesNotAbortBatch(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	bad := appointmentAt("apt-a", sweepNow.Add(24*time.Hour))
	bad.ClientPhone = "sem telefone"
	h.addAppointment(bad)
	h.addAppointment(appointmentAt("apt-b", sweepNow.Add(24*time.Hour)))

	report, err := h.engine.SweepReminders(context.Background(), sweepNow)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)
}

type stubLocker struct {
	ok       bool
	released int
}

func (l *stubLocker) TryLock(context.Context, string, time.Duration) (func(), bool, error) {
	if !l.ok {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestSweepReminders_DistributedLock(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(24*time.Hour)))

	held := &stubLocker{ok: false}
	h.engine.locker = held
	_, err := h.engine.SweepReminders(context.Background(), sweepNow)
	assert.ErrorIs(t, err, ErrSweepInProgress)
	assert.Zero(t, h.gw.sentCount())

	free := &stubLocker{ok: true}
	h.engine.locker = free
	report, err := h.engine.SweepReminders(context.Background(), sweepNow)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, free.released)
}

func TestSweepBirthdays(t *testing.T) {
	birth := time.Date(1990, time.October, 16, 0, 0, 0, 0, time.UTC)
	other := time.Date(1985, time.May, 2, 0, 0, 0, 0, time.UTC)
	thisYear := 2026
	lastYear := 2025

	h := newHarness(testConfig(), sweepNow)
	h.addClient(&salon.Client{ID: "c-today", Name: "Ana Lima", Phone: "11912345678", BirthDate: &birth, LastBirthdayNotificationYear: &lastYear})
	h.addClient(&salon.Client{ID: "c-greeted", Name: "Bia", Phone: "11912345679", BirthDate: &birth, LastBirthdayNotificationYear: &thisYear})
	h.addClient(&salon.Client{ID: "c-other", Name: "Caio", Phone: "11912345670", BirthDate: &other})

	report, err := h.engine.SweepBirthdays(context.Background(), sweepNow)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, h.gw.texts, 1)
	assert.Contains(t, h.gw.texts[0].Body, "Ana")
	assert.Contains(t, h.gw.texts[0].Body, "NIVER10")
	assert.Contains(t, h.gw.texts[0].Body, "10%")

	c, err := h.clients.GetByID(context.Background(), "c-today")
	require.NoError(t, err)
	require.NotNil(t, c.LastBirthdayNotificationYear)
	assert.Equal(t, 2026, *c.LastBirthdayNotificationYear)

	again, err := h.engine.SweepBirthdays(context.Background(), sweepNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, again.Sent)
	assert.Len(t, h.gw.texts, 1)
}

func TestSweepBirthdays_AlreadyGreetedSendsNothing(t *testing.T) {
	birth := time.Date(1990, time.October, 16, 0, 0, 0, 0, time.UTC)
	year := 2026
	h := newHarness(testConfig(), sweepNow)
	h.addClient(&salon.Client{ID: "c1", Name: "Ana", Phone: "11912345678", BirthDate: &birth, LastBirthdayNotificationYear: &year})

	report, err := h.engine.SweepBirthdays(context.Background(), sweepNow)

	require.NoError(t, err)
	assert.Zero(t, report.Sent)
	assert.Zero(t, h.gw.sentCount())
	entries, _ := h.ledger.List(context.Background(), notification.ListFilter{})
	assert.Empty(t, entries)
}

func TestSendBirthdayGreeting_FailureLeavesYearUnset(t *testing.T) {
	birth := time.Date(1990, time.October, 16, 0, 0, 0, 0, time.UTC)
	h := newHarness(testConfig(), sweepNow)
	client := &salon.Client{ID: "c1", Name: "Ana", Phone: "11912345678", BirthDate: &birth}
	h.addClient(client)
	h.gw.sendErr = gateway.NewSendFailed("blocked", 403, nil)

	entry := h.engine.SendBirthdayGreeting(context.Background(), client)

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusFailed, entry.Status)
	stored, err := h.clients.GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, stored.LastBirthdayNotificationYear)
}

func TestHandleAppointmentCreated(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(72*time.Hour)))

	require.NoError(t, h.engine.HandleAppointmentCreated(context.Background(), "apt-1"))
	assert.Len(t, h.ledger.byKind(notification.KindConfirmation), 1)

	err := h.engine.HandleAppointmentCreated(context.Background(), "missing")
	assert.ErrorIs(t, err, salon.ErrAppointmentNotFound)
}

func TestHandleAppointmentCreated_NotReady(t *testing.T) {
	cfg := testConfig()
	cfg.Active = false
	h := newHarness(cfg, sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(72*time.Hour)))

	err := h.engine.HandleAppointmentCreated(context.Background(), "apt-1")

	assert.ErrorIs(t, err, ErrGatewayNotReady)
	assert.Zero(t, h.gw.sentCount())
}

func TestHandleAppointmentCreated_LedgerFailureIsReported(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(72*time.Hour)))
	h.ledger.createErr = errors.New("db down")

	err := h.engine.HandleAppointmentCreated(context.Background(), "apt-1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayNotReady)
	assert.Contains(t, err.Error(), "db down")
	assert.Zero(t, h.gw.sentCount())
}

func TestSweepReminders_LedgerFailureCountsAsFailed(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	h.addAppointment(appointmentAt("apt-1", sweepNow.Add(24*time.Hour)))
	h.ledger.createErr = errors.New("db down")

	report, err := h.engine.SweepReminders(context.Background(), sweepNow)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Skipped)
	assert.Zero(t, h.gw.sentCount())
}

func TestSendConfirmation_ShortPhoneIsLeftToTheGateway(t *testing.T) {
	h := newHarness(testConfig(), sweepNow)
	apt := appointmentAt("apt-1", sweepNow.Add(48*time.Hour))
	apt.ClientPhone = "12"

	entry := h.engine.SendConfirmation(context.Background(), apt)

	require.NotNil(t, entry)
	assert.Equal(t, notification.StatusSent, entry.Status)
	require.Equal(t, 1, h.gw.sentCount())
	assert.Equal(t, "12", h.gw.texts[0].Phone)
}
