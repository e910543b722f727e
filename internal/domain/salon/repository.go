package salon

import (
	"context"
	"errors"
)

var ErrAppointmentNotFound = errors.New("appointment not found")
var ErrClientNotFound = errors.New("client not found")

// AppointmentRepository is the slice of the entity store the engine needs.
type AppointmentRepository interface {
	GetByID(ctx context.Context, id string) (*Appointment, error)
	ListByStatuses(ctx context.Context, statuses []AppointmentStatus) ([]*Appointment, error)
	UpdateStatus(ctx context.Context, id string, status AppointmentStatus) error
}

// ClientRepository reads clients and records the yearly birthday marker.
type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*Client, error)
	ListWithBirthDate(ctx context.Context) ([]*Client, error)
	SetLastBirthdayNotificationYear(ctx context.Context, id string, year int) error
}
