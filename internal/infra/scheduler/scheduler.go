package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/app"
	"salon_notification_engine/internal/domain/gateway"
)

// MaxReminderGap is the widest allowed distance between two reminder sweeps.
const MaxReminderGap = app.ReminderWindowEnd - app.ReminderWindowStart

// StatusRefresher polls the gateway for the session state.
type StatusRefresher interface {
	Refresh(ctx context.Context) (gateway.ConnectionState, error)
}

// Specs holds the cron expressions of the scheduled jobs.
type Specs struct {
	Reminders  string // e.g. "0 * * * *" (hourly)
	Birthdays  string // e.g. "0 9 * * *" (9 AM daily)
	StatusPoll string // e.g. "*/2 * * * *"; empty disables polling
}

type NotificationScheduler struct {
	cronEngine *cron.Cron
	engine     app.AutomationService
	sessions   StatusRefresher // may be nil
	logger     *logrus.Entry
	location   *time.Location
	specs      Specs
	now        func() time.Time
}

func NewNotificationScheduler(
	engine app.AutomationService,
	sessions StatusRefresher,
	logger *logrus.Entry,
	location *time.Location,
	specs Specs,
) *NotificationScheduler {
	if location == nil {
		location = time.Local
	}
	return &NotificationScheduler{
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		engine:   engine,
		sessions: sessions,
		logger:   logger,
		location: location,
		specs:    specs,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *NotificationScheduler) Start() error {
	s.logger.Info("Starting notification scheduler...")

	if err := ValidateReminderCadence(s.specs.Reminders); err != nil {
		return err
	}

	if _, err := s.cronEngine.AddFunc(s.specs.Reminders, s.runReminderSweep); err != nil {
		return fmt.Errorf("could not add reminder sweep cron job: %w", err)
	}

	if _, err := s.cronEngine.AddFunc(s.specs.Birthdays, s.runBirthdaySweep); err != nil {
		return fmt.Errorf("could not add birthday sweep cron job: %w", err)
	}

	if s.specs.StatusPoll != "" && s.sessions != nil {
		if _, err := s.cronEngine.AddFunc(s.specs.StatusPoll, s.runStatusPoll); err != nil {
			return fmt.Errorf("could not add status poll cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Notification scheduler started with jobs.")
	return nil
}

func (s *NotificationScheduler) runReminderSweep() {
	logCtx := s.logger.WithField("job", "reminders")
	logCtx.Debug("Cron job triggered for reminder sweep.")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := s.engine.SweepReminders(ctx, s.now())
	s.logReport(logCtx, report, err)
}

func (s *NotificationScheduler) runBirthdaySweep() {
	logCtx := s.logger.WithField("job", "birthdays")
	logCtx.Debug("Cron job triggered for birthday sweep.")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	report, err := s.engine.SweepBirthdays(ctx, s.now().In(s.location))
	s.logReport(logCtx, report, err)
}

func (s *NotificationScheduler) runStatusPoll() {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()
	state, err := s.sessions.Refresh(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("job", "status_poll").Warn("Gateway status poll failed")
		return
	}
	s.logger.WithField("state", state).Debug("Gateway status polled")
}

func (s *NotificationScheduler) logReport(logCtx *logrus.Entry, report app.SweepReport, err error) {
	switch {
	case errors.Is(err, app.ErrSweepInProgress):
		logCtx.Info("Sweep skipped, another run holds the lock")
	case err != nil:
		logCtx.WithError(err).Error("Sweep failed")
	case report.NotReady:
		logCtx.Info("Sweep skipped, gateway not ready")
	default:
		logCtx.WithFields(logrus.Fields{
			"candidates": report.Candidates,
			"sent":       report.Sent,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
		}).Info("Sweep finished")
	}
}

// Stop stops the cron engine and waits for running jobs.
func (s *NotificationScheduler) Stop() {
	s.logger.Info("Stopping notification scheduler...")
	<-s.cronEngine.Stop().Done()
	s.logger.Info("Notification scheduler gracefully stopped.")
}

// ValidateReminderCadence rejects reminder schedules that leave more than
// MaxReminderGap between consecutive runs over the next week.
func ValidateReminderCadence(spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid reminder cron spec %q: %w", spec, err)
	}
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	prev := schedule.Next(start)
	if prev.IsZero() {
		return fmt.Errorf("reminder cron spec %q never fires", spec)
	}
	if gap := prev.Sub(start); gap > MaxReminderGap {
		return fmt.Errorf("reminder cron spec %q leaves a %s gap, max is %s", spec, gap, MaxReminderGap)
	}
	for end := start.AddDate(0, 0, 7); prev.Before(end); {
		next := schedule.Next(prev)
		if next.IsZero() {
			return fmt.Errorf("reminder cron spec %q stops firing", spec)
		}
		if gap := next.Sub(prev); gap > MaxReminderGap {
			return fmt.Errorf("reminder cron spec %q leaves a %s gap, max is %s", spec, gap, MaxReminderGap)
		}
		prev = next
	}
	return nil
}
