package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

const defaultHistoryLimit = 10
const maxHistoryLimit = 50

// StatusSummary is what the operator sees for /status.
type StatusSummary struct {
	TenantName string
	SessionID  string
	Active     bool
	State      gateway.ConnectionState
}

// AdminService exposes operator actions over the session and the ledger.
type AdminService struct {
	sessions        *SessionManager
	engine          AutomationService
	ledger          notification.Ledger
	alerter         Alerter
	adminTelegramID int64
}

func NewAdminService(sessions *SessionManager, engine AutomationService, ledger notification.Ledger, alerter Alerter, adminID int64) *AdminService {
	return &AdminService{
		sessions:        sessions,
		engine:          engine,
		ledger:          ledger,
		alerter:         alerter,
		adminTelegramID: adminID,
	}
}

// IsAdmin reports whether senderID is the configured operator.
func (s *AdminService) IsAdmin(senderID int64) bool {
	return s.adminTelegramID != 0 && senderID == s.adminTelegramID
}

// Status polls the gateway and returns the current summary. A failed poll still
// returns the summary, with the error for display.
func (s *AdminService) Status(ctx context.Context, performingAdminID int64) (StatusSummary, error) {
	if !s.IsAdmin(performingAdminID) {
		return StatusSummary{}, ErrAdminNotAuthorized
	}
	_, pollErr := s.sessions.Refresh(ctx)
	cfg := s.sessions.Config()
	return StatusSummary{
		TenantName: cfg.TenantName,
		SessionID:  cfg.SessionID,
		Active:     cfg.Active,
		State:      s.sessions.State(),
	}, pollErr
}

// Connect starts pairing and forwards the pairing artifact to the operator.
func (s *AdminService) Connect(ctx context.Context, performingAdminID int64) (*gateway.ConnectionTicket, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	ticket, err := s.sessions.Connect(ctx)
	if err != nil {
		return nil, err
	}

	caption := "Escaneie o QR code no WhatsApp do salão para concluir o pareamento."
	if ticket.PairingCode != "" {
		caption = fmt.Sprintf("%s\nCódigo de pareamento: %s", caption, ticket.PairingCode)
	}
	s.alerter.AlertPairing(ctx, caption, ticket.QRCode)
	return ticket, nil
}

func (s *AdminService) Disconnect(ctx context.Context, performingAdminID int64) error {
	if !s.IsAdmin(performingAdminID) {
		return ErrAdminNotAuthorized
	}
	return s.sessions.Disconnect(ctx)
}

// Reset logs out and deletes the provider session.
func (s *AdminService) Reset(ctx context.Context, performingAdminID int64) error {
	if !s.IsAdmin(performingAdminID) {
		return ErrAdminNotAuthorized
	}
	return s.sessions.Reset(ctx)
}

// Reload re-reads the tenant configuration, clearing a standing credentials rejection.
func (s *AdminService) Reload(ctx context.Context, performingAdminID int64) error {
	if !s.IsAdmin(performingAdminID) {
		return ErrAdminNotAuthorized
	}
	return s.sessions.Reload(ctx)
}

// ListFailed returns the most recent failed sends.
func (s *AdminService) ListFailed(ctx context.Context, performingAdminID int64, limit int) ([]*notification.LedgerEntry, error) {
	status := notification.StatusFailed
	return s.history(ctx, performingAdminID, notification.ListFilter{Status: &status, Limit: limit})
}

// ListReplies returns the most recent client replies for human follow-up.
func (s *AdminService) ListReplies(ctx context.Context, performingAdminID int64, limit int) ([]*notification.LedgerEntry, error) {
	status := notification.StatusReplied
	return s.history(ctx, performingAdminID, notification.ListFilter{Status: &status, Limit: limit})
}

// RunReminderSweep triggers a reminder sweep outside the schedule.
func (s *AdminService) RunReminderSweep(ctx context.Context, performingAdminID int64) (SweepReport, error) {
	if !s.IsAdmin(performingAdminID) {
		return SweepReport{}, ErrAdminNotAuthorized
	}
	return s.engine.SweepReminders(ctx, time.Now())
}

func (s *AdminService) history(ctx context.Context, performingAdminID int64, filter notification.ListFilter) ([]*notification.LedgerEntry, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	entries, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
