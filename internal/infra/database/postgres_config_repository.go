package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
)

type PostgresConfigRepository struct {
	db *sql.DB
}

func NewPostgresConfigRepository(db *sql.DB) *PostgresConfigRepository {
	return &PostgresConfigRepository{db: db}
}

func (r *PostgresConfigRepository) Get(ctx context.Context, tenantID string) (*notification.Config, error) {
	query := `SELECT tenant_id, tenant_name, session_id, base_url, api_key, webhook_url, active, status,
                     confirmation_template, reminder_template, birthday_template, generic_template,
                     birthday_coupon_code, birthday_discount_percent
               FROM notification_config WHERE tenant_id = $1`
	cfg := notification.Config{}
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&cfg.TenantID, &cfg.TenantName, &cfg.SessionID, &cfg.BaseURL, &cfg.APIKey, &cfg.WebhookURL,
		&cfg.Active, &cfg.Status,
		&cfg.ConfirmationTemplate, &cfg.ReminderTemplate, &cfg.BirthdayTemplate, &cfg.GenericTemplate,
		&cfg.BirthdayCouponCode, &cfg.BirthdayDiscountPercent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrConfigNotFound
		}
		return nil, fmt.Errorf("error getting notification config: %w", err)
	}
	return &cfg, nil
}

// UpdateStatus records the gateway connection state for display in the configuration screens.
func (r *PostgresConfigRepository) UpdateStatus(ctx context.Context, tenantID string, status gateway.ConnectionState) error {
	query := `UPDATE notification_config SET status = $1, updated_at = NOW() WHERE tenant_id = $2`
	res, err := r.db.ExecContext(ctx, query, status, tenantID)
	if err != nil {
		return fmt.Errorf("error updating notification config status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notification.ErrConfigNotFound
	}
	return nil
}
