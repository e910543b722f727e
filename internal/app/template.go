package app

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"salon_notification_engine/internal/domain/notification"
	"salon_notification_engine/internal/domain/salon"
)

// Template variable names available to tenant-authored templates.
const (
	VarClientName   = "client_name"
	VarDate         = "date"
	VarTime         = "time"
	VarService      = "service"
	VarProfessional = "professional"
	VarPrice        = "price"
	VarSalon        = "salon"
	VarCoupon       = "coupon"
	VarDiscount     = "discount"
)

const (
	defaultConfirmationTemplate = "Olá {{client_name}}! Seu agendamento de {{service}} com {{professional}} está marcado para {{date}} às {{time}}. Valor: {{price}}. Até lá! {{salon}}"
	defaultReminderTemplate     = "Olá {{client_name}}! Lembrete: amanhã, {{date}} às {{time}}, você tem {{service}} com {{professional}}. Você confirma sua presença?"
	defaultBirthdayTemplate     = "Feliz aniversário, {{client_name}}! 🎉 A equipe {{salon}} preparou um presente: use o cupom {{coupon}} e ganhe {{discount}}% de desconto."
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

var brPrinter = message.NewPrinter(language.BrazilianPortuguese)

// RenderTemplate replaces every {{key}} with vars[key]. Placeholders whose key is
// not in vars are left untouched.
func RenderTemplate(tpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tpl, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return match
	})
}

func templateOrDefault(cfg *notification.Config, kind notification.Kind) string {
	if tpl := cfg.TemplateFor(kind); tpl != "" {
		return tpl
	}
	switch kind {
	case notification.KindReminder:
		return defaultReminderTemplate
	case notification.KindBirthday:
		return defaultBirthdayTemplate
	default:
		return defaultConfirmationTemplate
	}
}

func appointmentVars(cfg *notification.Config, apt *salon.Appointment, loc *time.Location) map[string]string {
	at := apt.ScheduledAt.In(loc)
	return map[string]string{
		VarClientName:   firstName(apt.ClientName),
		VarDate:         at.Format("02/01/2006"),
		VarTime:         at.Format("15:04"),
		VarService:      apt.ServiceName,
		VarProfessional: apt.ProfessionalName,
		VarPrice:        FormatCurrency(apt.Price),
		VarSalon:        cfg.TenantName,
	}
}

func birthdayVars(cfg *notification.Config, c *salon.Client) map[string]string {
	return map[string]string{
		VarClientName: firstName(c.Name),
		VarSalon:      cfg.TenantName,
		VarCoupon:     cfg.BirthdayCouponCode,
		VarDiscount:   strconv.Itoa(cfg.BirthdayDiscountPercent),
	}
}

// FormatCurrency renders an amount in Brazilian reais, e.g. "R$ 1.234,56".
func FormatCurrency(amount float64) string {
	return brPrinter.Sprintf("R$ %.2f", amount)
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return full
	}
	return fields[0]
}
