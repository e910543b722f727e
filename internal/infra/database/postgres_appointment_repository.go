package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"salon_notification_engine/internal/domain/salon"
)

const appointmentSelect = `SELECT a.id, a.client_id, c.name, c.phone, a.scheduled_at, a.service_name, a.price,
       a.professional_name, a.professional_phone, a.status
  FROM appointments a
  JOIN clients c ON c.id = a.client_id`

type PostgresAppointmentRepository struct {
	db *sql.DB
}

func NewPostgresAppointmentRepository(db *sql.DB) *PostgresAppointmentRepository {
	return &PostgresAppointmentRepository{db: db}
}

func (r *PostgresAppointmentRepository) GetByID(ctx context.Context, id string) (*salon.Appointment, error) {
	query := appointmentSelect + ` WHERE a.id = $1`
	a := &salon.Appointment{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(appointmentScanTargets(a)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, salon.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("error getting appointment by ID: %w", err)
	}
	return a, nil
}

func (r *PostgresAppointmentRepository) ListByStatuses(ctx context.Context, statuses []salon.AppointmentStatus) ([]*salon.Appointment, error) {
	if len(statuses) == 0 {
		return []*salon.Appointment{}, nil
	}
	asStrings := make([]string, len(statuses))
	for i, s := range statuses {
		asStrings[i] = string(s)
	}

	query := appointmentSelect + ` WHERE a.status = ANY($1::varchar[]) ORDER BY a.scheduled_at`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(asStrings))
	if err != nil {
		return nil, fmt.Errorf("error listing appointments by status: %w", err)
	}
	defer rows.Close()

	appointments := make([]*salon.Appointment, 0)
	for rows.Next() {
		a := &salon.Appointment{}
		if err := rows.Scan(appointmentScanTargets(a)...); err != nil {
			return nil, fmt.Errorf("error scanning appointment: %w", err)
		}
		appointments = append(appointments, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating appointments: %w", err)
	}
	return appointments, nil
}

func (r *PostgresAppointmentRepository) UpdateStatus(ctx context.Context, id string, status salon.AppointmentStatus) error {
	query := `UPDATE appointments SET status = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("error updating appointment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows for appointment status: %w", err)
	}
	if n == 0 {
		return salon.ErrAppointmentNotFound
	}
	return nil
}

func appointmentScanTargets(a *salon.Appointment) []interface{} {
	return []interface{}{
		&a.ID, &a.ClientID, &a.ClientName, &a.ClientPhone, &a.ScheduledAt, &a.ServiceName, &a.Price,
		&a.ProfessionalName, &a.ProfessionalPhone, &a.Status,
	}
}
