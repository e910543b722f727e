package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salon_notification_engine/internal/domain/salon"
)

type PostgresClientRepository struct {
	db *sql.DB
}

func NewPostgresClientRepository(db *sql.DB) *PostgresClientRepository {
	return &PostgresClientRepository{db: db}
}

func (r *PostgresClientRepository) GetByID(ctx context.Context, id string) (*salon.Client, error) {
	query := `SELECT id, name, phone, birth_date, last_birthday_notification_year
               FROM clients WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, salon.ErrClientNotFound
		}
		return nil, fmt.Errorf("error getting client by ID: %w", err)
	}
	return c, nil
}

// ListWithBirthDate returns every client with a known birth date. Month/day matching
// happens in the engine, in the tenant's timezone.
func (r *PostgresClientRepository) ListWithBirthDate(ctx context.Context) ([]*salon.Client, error) {
	query := `SELECT id, name, phone, birth_date, last_birthday_notification_year
               FROM clients WHERE birth_date IS NOT NULL ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing clients with birth date: %w", err)
	}
	defer rows.Close()

	clients := make([]*salon.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning client: %w", err)
		}
		clients = append(clients, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}
	return clients, nil
}

func (r *PostgresClientRepository) SetLastBirthdayNotificationYear(ctx context.Context, id string, year int) error {
	query := `UPDATE clients SET last_birthday_notification_year = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, year, id)
	if err != nil {
		return fmt.Errorf("error updating client birthday year: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return salon.ErrClientNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (*salon.Client, error) {
	var (
		c         salon.Client
		birthDate sql.NullTime
		lastYear  sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &birthDate, &lastYear); err != nil {
		return nil, err
	}
	if birthDate.Valid {
		bd := birthDate.Time
		c.BirthDate = &bd
	}
	if lastYear.Valid {
		y := int(lastYear.Int64)
		c.LastBirthdayNotificationYear = &y
	}
	return &c, nil
}
