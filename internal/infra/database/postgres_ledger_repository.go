// internal/infra/database/postgres_ledger_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq" // For pq.Array and error inspection

	"salon_notification_engine/internal/domain/notification"
)

const liveReminderConstraint = "message_log_live_reminder_unique"

const ledgerColumns = `id, appointment_id, client_id, recipient_phone, recipient_name, kind, body, status,
       sent_at, gateway_message_id, reply_text, replied_at, failure_detail, updated_at`

type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) Create(ctx context.Context, e *notification.LedgerEntry) error {
	query := `INSERT INTO message_log (` + ledgerColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.AppointmentID, e.ClientID, e.RecipientPhone, e.RecipientName, e.Kind, e.Body, e.Status,
		e.SentAt, e.GatewayMessageID, e.ReplyText, e.RepliedAt, e.FailureDetail,
	).Scan(&e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, liveReminderConstraint) {
			return notification.ErrDuplicateEntry
		}
		return fmt.Errorf("error creating ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresLedgerRepository) Update(ctx context.Context, e *notification.LedgerEntry) error {
	query := `UPDATE message_log
               SET status = $1, sent_at = $2, gateway_message_id = $3, failure_detail = $4, updated_at = NOW()
               WHERE id = $5
               RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, e.Status, e.SentAt, e.GatewayMessageID, e.FailureDetail, e.ID).Scan(&e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notification.ErrLedgerEntryNotFound
		}
		return fmt.Errorf("error updating ledger entry: %w", err)
	}
	return nil
}

// Advance moves the entry forward only when the stored status ranks at or below
// the new one. Failed rows never match.
func (r *PostgresLedgerRepository) Advance(ctx context.Context, e *notification.LedgerEntry) error {
	query := `UPDATE message_log
               SET status = $1, reply_text = $2, replied_at = $3, updated_at = NOW()
               WHERE id = $4
                 AND array_position($5::varchar[], status::varchar) IS NOT NULL
                 AND array_position($5::varchar[], status::varchar) <= array_position($5::varchar[], $1::varchar)
               RETURNING updated_at`
	order := make([]string, len(notification.ForwardOrder))
	for i, s := range notification.ForwardOrder {
		order[i] = string(s)
	}

	err := r.db.QueryRowContext(ctx, query, e.Status, e.ReplyText, e.RepliedAt, e.ID, pq.Array(order)).Scan(&e.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error advancing ledger entry: %w", err)
	}
	// No row matched: either the entry is gone or it is already past this status.
	if _, getErr := r.GetByID(ctx, e.ID); getErr != nil {
		return getErr
	}
	return notification.ErrStaleUpdate
}

func (r *PostgresLedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*notification.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM message_log WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresLedgerRepository) GetByGatewayMessageID(ctx context.Context, gatewayMessageID string) (*notification.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM message_log
               WHERE gateway_message_id = $1 ORDER BY sent_at DESC LIMIT 1`
	return r.getOne(ctx, query, gatewayMessageID)
}

func (r *PostgresLedgerRepository) HasActiveEntry(ctx context.Context, appointmentID string, kind notification.Kind) (bool, error) {
	query := `SELECT EXISTS (
                 SELECT 1 FROM message_log
                 WHERE appointment_id = $1 AND kind = $2 AND status <> $3
               )`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, appointmentID, kind, notification.StatusFailed).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking existing ledger entry: %w", err)
	}
	return exists, nil
}

func (r *PostgresLedgerRepository) List(ctx context.Context, filter notification.ListFilter) ([]*notification.LedgerEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + ledgerColumns + ` FROM message_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing ledger entries: %w", err)
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

func (r *PostgresLedgerRepository) getOne(ctx context.Context, query string, arg interface{}) (*notification.LedgerEntry, error) {
	e := notification.LedgerEntry{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(ledgerScanTargets(&e)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrLedgerEntryNotFound
		}
		return nil, fmt.Errorf("error getting ledger entry: %w", err)
	}
	return &e, nil
}

func ledgerScanTargets(e *notification.LedgerEntry) []interface{} {
	return []interface{}{
		&e.ID, &e.AppointmentID, &e.ClientID, &e.RecipientPhone, &e.RecipientName, &e.Kind, &e.Body, &e.Status,
		&e.SentAt, &e.GatewayMessageID, &e.ReplyText, &e.RepliedAt, &e.FailureDetail, &e.UpdatedAt,
	}
}

// Helper to scan multiple rows
func scanLedgerEntries(rows *sql.Rows) ([]*notification.LedgerEntry, error) {
	entries := make([]*notification.LedgerEntry, 0)
	for rows.Next() {
		e := notification.LedgerEntry{}
		if err := rows.Scan(ledgerScanTargets(&e)...); err != nil {
			return nil, fmt.Errorf("error scanning ledger entry row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entry rows: %w", err)
	}
	return entries, nil
}

// isUniqueViolation reports whether err is a Postgres unique violation on constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && (pqErr.Constraint == constraint || strings.Contains(pqErr.Message, constraint))
	}
	return strings.Contains(err.Error(), constraint)
}
