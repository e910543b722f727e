// Package httpapi exposes the engine's HTTP ingress: gateway callbacks, business
// events, health and metrics.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/app"
	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/salon"
	"salon_notification_engine/internal/infra/telemetry"
)

const maxWebhookBytes = 1 << 20

// EventReconciler applies one normalized gateway event.
type EventReconciler interface {
	Handle(ctx context.Context, event gateway.Event) (app.Outcome, error)
}

// AppointmentEvents reacts to appointment lifecycle events from the business side.
type AppointmentEvents interface {
	HandleAppointmentCreated(ctx context.Context, appointmentID string) error
}

// WebhookParser turns a provider callback body into normalized events.
type WebhookParser func(body []byte) ([]gateway.Event, error)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps groups what the router needs.
type Deps struct {
	Reconciler   EventReconciler
	Appointments AppointmentEvents
	ParseWebhook WebhookParser
	WebhookToken string
	DB           Pinger // optional, enables /readyz
	Metrics      *telemetry.Metrics
	Registry     *prometheus.Registry
	Logger       *logrus.Entry
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	Router *chi.Mux
	deps   Deps
}

// NewServer creates the router with middleware, ingress routes and health/metrics endpoints.
func NewServer(deps Deps) *Server {
	s := &Server{Router: chi.NewRouter(), deps: deps}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(deps.Logger))
	s.Router.Use(Metrics(deps.Metrics))
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	s.Router.Group(func(r chi.Router) {
		r.Use(RequireToken(deps.WebhookToken))
		r.Post("/webhooks/gateway", s.handleGatewayWebhook)
		r.Post("/events/appointments/{id}/created", s.handleAppointmentCreated)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(r.Context()); err != nil {
			s.deps.Logger.WithError(err).Error("readiness check: database ping failed")
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

type webhookResponse struct {
	Processed int           `json:"processed"`
	Outcomes  []app.Outcome `json:"outcomes"`
}

// handleGatewayWebhook acknowledges every well-formed callback, including ones it
// drops. Only storage failures answer 5xx so the provider redelivers.
func (s *Server) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "could not read body")
		return
	}

	events, err := s.deps.ParseWebhook(body)
	if err != nil {
		s.deps.Logger.WithError(err).Warn("Rejecting malformed gateway webhook")
		RespondError(w, http.StatusBadRequest, "bad_request", "malformed webhook payload")
		return
	}

	resp := webhookResponse{Outcomes: make([]app.Outcome, 0, len(events))}
	for _, ev := range events {
		outcome, err := s.deps.Reconciler.Handle(r.Context(), ev)
		if err != nil {
			s.deps.Logger.WithError(err).WithField("gateway_message_id", ev.GatewayMessageID).Error("Failed to reconcile gateway event")
			RespondError(w, http.StatusInternalServerError, "internal_error", "could not record event")
			return
		}
		resp.Processed++
		resp.Outcomes = append(resp.Outcomes, outcome)
	}
	Respond(w, http.StatusOK, resp)
}

func (s *Server) handleAppointmentCreated(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logCtx := s.deps.Logger.WithField("appointment_id", id)

	err := s.deps.Appointments.HandleAppointmentCreated(r.Context(), id)
	switch {
	case err == nil:
		Respond(w, http.StatusAccepted, map[string]string{"status": "processed"})
	case errors.Is(err, salon.ErrAppointmentNotFound):
		RespondError(w, http.StatusNotFound, "not_found", "appointment not found")
	case errors.Is(err, app.ErrGatewayNotReady):
		logCtx.Info("Appointment created while automation is not ready, confirmation skipped")
		Respond(w, http.StatusAccepted, map[string]string{"status": "skipped"})
	default:
		logCtx.WithError(err).Error("Failed to handle appointment created event")
		RespondError(w, http.StatusInternalServerError, "internal_error", "could not process event")
	}
}
