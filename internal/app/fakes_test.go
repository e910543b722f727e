package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/domain/salon"
	"salon_notification_engine/internal/infra/telemetry"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics(prometheus.NewRegistry())
}

// fakeGateway records sends and returns scripted results.
type fakeGateway struct {
	mu sync.Mutex

	state       gateway.ConnectionState
	statusErr   error
	createErr   error
	connectErr  error
	sendErr     error
	sendDelay   time.Duration
	ticket      *gateway.ConnectionTicket
	onConnect   func() // runs before Connect answers
	nextID      int
	texts       []sentMessage
	interactive []sentMessage

	createCalls  int
	connectCalls int
	statusCalls  int
}

func (g *fakeGateway) setState(state gateway.ConnectionState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = state
}

func (g *fakeGateway) statusPolls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

type sentMessage struct {
	Phone   string
	Body    string
	Options []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{state: gateway.StateConnected, ticket: &gateway.ConnectionTicket{PairingCode: "ABCD-1234"}}
}

func (g *fakeGateway) CreateSession(_ context.Context, cfg gateway.SessionConfig) (gateway.SessionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return gateway.SessionHandle{}, g.createErr
	}
	return gateway.SessionHandle{SessionID: cfg.SessionID, BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, nil
}

func (g *fakeGateway) Connect(_ context.Context, _ gateway.SessionHandle) (*gateway.ConnectionTicket, error) {
	if g.onConnect != nil {
		g.onConnect()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	if g.connectErr != nil {
		return nil, g.connectErr
	}
	return g.ticket, nil
}

func (g *fakeGateway) Status(_ context.Context, _ gateway.SessionHandle) (gateway.ConnectionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return gateway.StateError, g.statusErr
	}
	return g.state, nil
}

func (g *fakeGateway) SendText(ctx context.Context, _ gateway.SessionHandle, phone, body string) (gateway.DeliveryReceipt, error) {
	return g.send(ctx, sentMessage{Phone: phone, Body: body}, false)
}

func (g *fakeGateway) SendInteractive(ctx context.Context, _ gateway.SessionHandle, phone, body string, options []string) (gateway.DeliveryReceipt, error) {
	return g.send(ctx, sentMessage{Phone: phone, Body: body, Options: options}, true)
}

func (g *fakeGateway) send(ctx context.Context, msg sentMessage, interactive bool) (gateway.DeliveryReceipt, error) {
	if g.sendDelay > 0 {
		select {
		case <-time.After(g.sendDelay):
		case <-ctx.Done():
			return gateway.DeliveryReceipt{}, gateway.NewSendFailed("request canceled", 0, fmt.Errorf("%w: %v", gateway.ErrGatewayUnavailable, ctx.Err()))
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return gateway.DeliveryReceipt{}, g.sendErr
	}
	g.nextID++
	if interactive {
		g.interactive = append(g.interactive, msg)
	} else {
		g.texts = append(g.texts, msg)
	}
	return gateway.DeliveryReceipt{GatewayMessageID: fmt.Sprintf("wamid-%d", g.nextID)}, nil
}

func (g *fakeGateway) Disconnect(_ context.Context, _ gateway.SessionHandle) error { return nil }

func (g *fakeGateway) DeleteSession(_ context.Context, _ gateway.SessionHandle) error { return nil }

func (g *fakeGateway) NormalizePhone(raw string) string { return gateway.NormalizePhone(raw, "11") }

func (g *fakeGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.texts) + len(g.interactive)
}

// memLedger is an in-memory ledger enforcing the live-reminder uniqueness rule.
type memLedger struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*notification.LedgerEntry
	order     []uuid.UUID
	createErr error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: make(map[uuid.UUID]*notification.LedgerEntry)}
}

func (l *memLedger) Create(_ context.Context, entry *notification.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		return l.createErr
	}
	if entry.Kind == notification.KindReminder && entry.AppointmentID.Valid && entry.Status != notification.StatusFailed {
		for _, e := range l.entries {
			if e.IsReminderFor(entry.AppointmentID.String) {
				return notification.ErrDuplicateEntry
			}
		}
	}
	cp := *entry
	l.entries[entry.ID] = &cp
	l.order = append(l.order, entry.ID)
	return nil
}

func (l *memLedger) Update(_ context.Context, entry *notification.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[entry.ID]; !ok {
		return notification.ErrLedgerEntryNotFound
	}
	cp := *entry
	l.entries[entry.ID] = &cp
	return nil
}

func (l *memLedger) GetByID(_ context.Context, id uuid.UUID) (*notification.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return nil, notification.ErrLedgerEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (l *memLedger) GetByGatewayMessageID(_ context.Context, id string) (*notification.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.GatewayMessageID.Valid && e.GatewayMessageID.String == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, notification.ErrLedgerEntryNotFound
}

func (l *memLedger) HasActiveEntry(_ context.Context, appointmentID string, kind notification.Kind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Kind == kind && e.AppointmentID.Valid && e.AppointmentID.String == appointmentID && e.Status != notification.StatusFailed {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) Advance(_ context.Context, entry *notification.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored, ok := l.entries[entry.ID]
	if !ok {
		return notification.ErrLedgerEntryNotFound
	}
	if stored.Status.Rank() > entry.Status.Rank() || stored.Status == notification.StatusFailed {
		return notification.ErrStaleUpdate
	}
	cp := *entry
	l.entries[entry.ID] = &cp
	return nil
}

func (l *memLedger) List(_ context.Context, filter notification.ListFilter) ([]*notification.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*notification.LedgerEntry
	for i := len(l.order) - 1; i >= 0; i-- {
		e := l.entries[l.order[i]]
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.Kind != nil && e.Kind != *filter.Kind {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *memLedger) byKind(kind notification.Kind) []*notification.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*notification.LedgerEntry
	for _, id := range l.order {
		if e := l.entries[id]; e.Kind == kind {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

type memAppointments struct {
	mu           sync.Mutex
	appointments map[string]*salon.Appointment
	updates      int
	failUpdates  int // UpdateStatus fails this many times before succeeding
}

func newMemAppointments(apts ...*salon.Appointment) *memAppointments {
	m := &memAppointments{appointments: make(map[string]*salon.Appointment)}
	for _, a := range apts {
		m.appointments[a.ID] = a
	}
	return m
}

func (m *memAppointments) GetByID(_ context.Context, id string) (*salon.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, salon.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointments) ListByStatuses(_ context.Context, statuses []salon.AppointmentStatus) ([]*salon.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*salon.Appointment
	for _, a := range m.appointments {
		for _, s := range statuses {
			if a.Status == s {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAppointments) UpdateStatus(_ context.Context, id string, status salon.AppointmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdates > 0 {
		m.failUpdates--
		return fmt.Errorf("appointment store unavailable")
	}
	a, ok := m.appointments[id]
	if !ok {
		return salon.ErrAppointmentNotFound
	}
	a.Status = status
	m.updates++
	return nil
}

func (m *memAppointments) status(id string) salon.AppointmentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appointments[id].Status
}

type memClients struct {
	mu      sync.Mutex
	clients map[string]*salon.Client
}

func newMemClients(clients ...*salon.Client) *memClients {
	m := &memClients{clients: make(map[string]*salon.Client)}
	for _, c := range clients {
		m.clients[c.ID] = c
	}
	return m
}

func (m *memClients) GetByID(_ context.Context, id string) (*salon.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, salon.ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memClients) ListWithBirthDate(_ context.Context) ([]*salon.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*salon.Client
	for _, c := range m.clients {
		if c.BirthDate != nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memClients) SetLastBirthdayNotificationYear(_ context.Context, id string, year int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return salon.ErrClientNotFound
	}
	y := year
	c.LastBirthdayNotificationYear = &y
	return nil
}

type memConfigRepo struct {
	mu       sync.Mutex
	cfg      notification.Config
	statuses []gateway.ConnectionState
}

func (r *memConfigRepo) Get(_ context.Context, tenantID string) (*notification.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenantID != r.cfg.TenantID {
		return nil, notification.ErrConfigNotFound
	}
	cp := r.cfg
	return &cp, nil
}

func (r *memConfigRepo) UpdateStatus(_ context.Context, _ string, status gateway.ConnectionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Status = status
	r.statuses = append(r.statuses, status)
	return nil
}

type recordingAlerter struct {
	mu       sync.Mutex
	alerts   []string
	pairings []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
}

func (a *recordingAlerter) AlertPairing(_ context.Context, caption string, _ []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairings = append(a.pairings, caption)
}

func (a *recordingAlerter) alertCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func testConfig() notification.Config {
	return notification.Config{
		TenantID:                "tenant-1",
		TenantName:              "Studio Bela",
		SessionID:               "studio-bela",
		BaseURL:                 "https://gateway.example.com",
		APIKey:                  "secret",
		Active:                  true,
		Status:                  gateway.StateConnected,
		BirthdayCouponCode:      "NIVER10",
		BirthdayDiscountPercent: 10,
	}
}

// testHarness wires an engine, reconciler and session manager over in-memory fakes.
type testHarness struct {
	now          time.Time
	gw           *fakeGateway
	ledger       *memLedger
	appointments *memAppointments
	clients      *memClients
	configRepo   *memConfigRepo
	alerter      *recordingAlerter
	sessions     *SessionManager
	engine       *AutomationEngine
	reconciler   *WebhookReconciler
}

func newHarness(cfg notification.Config, now time.Time) *testHarness {
	h := &testHarness{
		now:          now,
		gw:           newFakeGateway(),
		ledger:       newMemLedger(),
		appointments: newMemAppointments(),
		clients:      newMemClients(),
		configRepo:   &memConfigRepo{cfg: cfg},
		alerter:      &recordingAlerter{},
	}
	metrics := testMetrics()
	clock := func() time.Time { return h.now }
	h.sessions = NewSessionManager(&cfg, h.gw, h.configRepo, h.alerter, metrics, testLogger(), 2*time.Second)
	h.engine = NewAutomationEngine(h.sessions, h.ledger, h.appointments, h.clients, nil, metrics, testLogger(), EngineSettings{
		Location: time.UTC,
		Now:      clock,
	})
	h.reconciler = NewWebhookReconciler(h.ledger, h.appointments, metrics, testLogger(), clock)
	return h
}
