// internal/domain/notification/config.go
package notification

import "salon_notification_engine/internal/domain/gateway"

// Config is the tenant's notification setup (NotificationConfig).
// It is produced by the configuration screens; the engine treats it as read-only.
type Config struct {
	TenantID   string `validate:"required"`
	TenantName string

	SessionID  string `validate:"required"`
	BaseURL    string `validate:"required,url"`
	APIKey     string `validate:"required"`
	WebhookURL string `validate:"omitempty,url"`

	Active bool
	Status gateway.ConnectionState

	ConfirmationTemplate string
	ReminderTemplate     string
	BirthdayTemplate     string
	GenericTemplate      string

	BirthdayCouponCode      string
	BirthdayDiscountPercent int `validate:"gte=0,lte=100"`
}

// SessionConfig extracts the gateway addressing fields.
func (c *Config) SessionConfig() gateway.SessionConfig {
	return gateway.SessionConfig{
		SessionID:  c.SessionID,
		BaseURL:    c.BaseURL,
		APIKey:     c.APIKey,
		WebhookURL: c.WebhookURL,
	}
}

// TemplateFor returns the tenant template for kind, falling back to the generic one.
// An empty result means the caller should use its built-in default.
func (c *Config) TemplateFor(kind Kind) string {
	var tpl string
	switch kind {
	case KindConfirmation:
		tpl = c.ConfirmationTemplate
	case KindReminder:
		tpl = c.ReminderTemplate
	case KindBirthday:
		tpl = c.BirthdayTemplate
	}
	if tpl == "" {
		tpl = c.GenericTemplate
	}
	return tpl
}
