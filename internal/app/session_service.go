package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/infra/telemetry"
)

var ErrAlreadyConnected = errors.New("gateway session is already connected")

var configValidator = validator.New()

// ValidateConfig checks the fields the engine cannot work without.
func ValidateConfig(cfg *notification.Config) error {
	if cfg == nil {
		return &ValidationError{Field: "config", Reason: "missing"}
	}
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		return fmt.Errorf("validating notification config: %w", err)
	}
	return nil
}

// SessionManager owns the tenant's gateway session and its connection state.
// Sends are only allowed while the state is connected and the config is active.
type SessionManager struct {
	gw         gateway.Client
	configRepo notification.ConfigRepository
	alerter    Alerter
	metrics    *telemetry.Metrics
	logger     *logrus.Entry
	timeout    time.Duration

	connectMu sync.Mutex // serializes Connect/Disconnect/Reset and status polls

	mu       sync.RWMutex
	cfg      notification.Config
	state    gateway.ConnectionState
	pending  *gateway.ConnectionTicket
	rejected bool
}

func NewSessionManager(
	cfg *notification.Config,
	gw gateway.Client,
	configRepo notification.ConfigRepository,
	alerter Alerter,
	metrics *telemetry.Metrics,
	logger *logrus.Entry,
	timeout time.Duration,
) *SessionManager {
	state := cfg.Status
	if !state.Valid() {
		state = gateway.StateDisconnected
	}
	s := &SessionManager{
		gw:         gw,
		configRepo: configRepo,
		alerter:    alerter,
		metrics:    metrics,
		logger:     logger,
		timeout:    timeout,
		cfg:        *cfg,
	}
	s.setStateLocked(state)
	return s
}

// Config returns a copy of the current notification config.
func (s *SessionManager) Config() notification.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// State returns the last known connection state.
func (s *SessionManager) State() gateway.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready returns the config and session handle when sends are allowed.
func (s *SessionManager) Ready() (notification.Config, gateway.SessionHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cfg.Active || s.state != gateway.StateConnected {
		return s.cfg, gateway.SessionHandle{}, false
	}
	return s.cfg, s.handleLocked(), true
}

// Gateway exposes the underlying client for phone normalization.
func (s *SessionManager) Gateway() gateway.Client { return s.gw }

// WithTimeout bounds a single gateway call.
func (s *SessionManager) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Connect creates the provider session if needed and starts pairing. While a pairing
// is pending the same ticket is returned without calling the provider again.
func (s *SessionManager) Connect(ctx context.Context) (*gateway.ConnectionTicket, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.RLock()
	state, pending, cfg := s.state, s.pending, s.cfg
	s.mu.RUnlock()

	if state == gateway.StateConnected {
		return nil, ErrAlreadyConnected
	}
	if state == gateway.StateAwaitingPairing && pending != nil {
		s.logger.WithField("session_id", cfg.SessionID).Info("Pairing already pending, returning existing ticket")
		return pending, nil
	}

	callCtx, cancel := s.WithTimeout(ctx)
	handle, err := s.gw.CreateSession(callCtx, cfg.SessionConfig())
	cancel()
	if err != nil {
		s.fail(ctx, err)
		return nil, fmt.Errorf("creating gateway session: %w", err)
	}

	callCtx, cancel = s.WithTimeout(ctx)
	ticket, err := s.gw.Connect(callCtx, handle)
	cancel()
	if err != nil {
		s.fail(ctx, err)
		return nil, fmt.Errorf("connecting gateway session: %w", err)
	}

	s.mu.Lock()
	s.rejected = false
	s.pending = ticket
	s.setStateLocked(gateway.StateAwaitingPairing)
	s.mu.Unlock()

	s.persistStatus(ctx, gateway.StateAwaitingPairing)
	s.logger.WithField("session_id", cfg.SessionID).Info("Gateway pairing started")
	return ticket, nil
}

// Refresh polls the provider for the connection state. It waits for an in-flight
// Connect so a stale poll cannot overwrite a pairing that just started.
func (s *SessionManager) Refresh(ctx context.Context) (gateway.ConnectionState, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.RLock()
	rejected, previous, handle := s.rejected, s.state, s.handleLocked()
	s.mu.RUnlock()

	if rejected {
		return gateway.StateError, gateway.ErrGatewayRejected
	}

	callCtx, cancel := s.WithTimeout(ctx)
	polled, err := s.gw.Status(callCtx, handle)
	cancel()
	if err != nil {
		s.fail(ctx, err)
		return gateway.StateError, fmt.Errorf("polling gateway status: %w", err)
	}

	s.mu.Lock()
	if polled == gateway.StateConnecting && s.pending != nil {
		polled = gateway.StateAwaitingPairing
	}
	if polled == gateway.StateConnected {
		s.pending = nil
	}
	s.setStateLocked(polled)
	s.mu.Unlock()

	if polled != previous {
		s.logger.WithFields(logrus.Fields{"from": previous, "to": polled}).Info("Gateway connection state changed")
		s.persistStatus(ctx, polled)
	}
	return polled, nil
}

// Disconnect logs the session out. An already-gone session counts as success.
func (s *SessionManager) Disconnect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.RLock()
	handle := s.handleLocked()
	s.mu.RUnlock()

	callCtx, cancel := s.WithTimeout(ctx)
	err := s.gw.Disconnect(callCtx, handle)
	cancel()
	if err != nil {
		return fmt.Errorf("disconnecting gateway session: %w", err)
	}

	s.mu.Lock()
	s.pending = nil
	s.setStateLocked(gateway.StateDisconnected)
	s.mu.Unlock()
	s.persistStatus(ctx, gateway.StateDisconnected)
	return nil
}

// Reset disconnects and deletes the provider session so the next Connect starts clean.
func (s *SessionManager) Reset(ctx context.Context) error {
	if err := s.Disconnect(ctx); err != nil {
		return err
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.RLock()
	handle := s.handleLocked()
	s.mu.RUnlock()

	callCtx, cancel := s.WithTimeout(ctx)
	defer cancel()
	if err := s.gw.DeleteSession(callCtx, handle); err != nil {
		return fmt.Errorf("deleting gateway session: %w", err)
	}
	return nil
}

// Reload re-reads the tenant config after a human changed it and clears a standing rejection.
func (s *SessionManager) Reload(ctx context.Context) error {
	s.mu.RLock()
	tenantID := s.cfg.TenantID
	s.mu.RUnlock()

	cfg, err := s.configRepo.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("reloading notification config: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = *cfg
	s.rejected = false
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "active": cfg.Active}).Info("Notification config reloaded")

	_, err = s.Refresh(ctx)
	return err
}

// fail moves the session to the error state. A credentials rejection is surfaced
// to the operator once and blocks further polling until Reload or Connect.
func (s *SessionManager) fail(ctx context.Context, err error) {
	rejected := errors.Is(err, gateway.ErrGatewayRejected)

	s.mu.Lock()
	alreadyRejected := s.rejected
	if rejected {
		s.rejected = true
	}
	s.pending = nil
	s.setStateLocked(gateway.StateError)
	sessionID := s.cfg.SessionID
	s.mu.Unlock()

	logCtx := s.logger.WithError(err).WithField("session_id", sessionID)
	if !rejected {
		logCtx.Warn("Gateway unavailable, sends suspended until the next successful poll")
		return
	}
	logCtx.Error("Gateway rejected the configured credentials")
	if !alreadyRejected {
		s.alerter.Alert(ctx, fmt.Sprintf("O gateway de WhatsApp recusou as credenciais da sessão %q. Os envios automáticos estão suspensos até a configuração ser corrigida (/reload).", sessionID))
		s.persistStatus(ctx, gateway.StateError)
	}
}

func (s *SessionManager) persistStatus(ctx context.Context, state gateway.ConnectionState) {
	s.mu.RLock()
	tenantID := s.cfg.TenantID
	s.mu.RUnlock()
	if err := s.configRepo.UpdateStatus(ctx, tenantID, state); err != nil {
		s.logger.WithError(err).WithField("state", state).Warn("Failed to persist gateway connection status")
	}
}

func (s *SessionManager) setStateLocked(state gateway.ConnectionState) {
	s.state = state
	s.cfg.Status = state
	if s.metrics == nil {
		return
	}
	if state == gateway.StateConnected {
		s.metrics.GatewayConnected.Set(1)
	} else {
		s.metrics.GatewayConnected.Set(0)
	}
}

func (s *SessionManager) handleLocked() gateway.SessionHandle {
	return gateway.SessionHandle{SessionID: s.cfg.SessionID, BaseURL: s.cfg.BaseURL, APIKey: s.cfg.APIKey}
}
