package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"salon_notification_engine/internal/app"
	"salon_notification_engine/internal/domain/gateway"
	"salon_notification_engine/internal/domain/notification"
)

const msgUnauthorized = "Erro: você não tem permissão para executar este comando."

// RegisterAdminHandlers registers handlers for operator commands.
// History timestamps are rendered in loc.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, loc *time.Location, baseLogger *logrus.Entry) {
	// guard wraps a command with logging and the admin check.
	guard := func(command string, fn func(c telebot.Context, logCtx *logrus.Entry) error) {
		b.Handle(command, func(c telebot.Context) error {
			handlerLogger := baseLogger.WithFields(logrus.Fields{
				"handler":   command,
				"sender_id": c.Sender().ID,
			})
			handlerLogger.Info("Command received")

			if !adminService.IsAdmin(c.Sender().ID) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(msgUnauthorized)
			}
			return fn(c, handlerLogger)
		})
	}

	guard("/status", func(c telebot.Context, logCtx *logrus.Entry) error {
		summary, err := adminService.Status(ctx, c.Sender().ID)
		if err != nil {
			logCtx.WithError(err).Warn("Status poll failed")
		}
		return c.Send(FormatStatus(summary, err))
	})

	guard("/connect", func(c telebot.Context, logCtx *logrus.Entry) error {
		ticket, err := adminService.Connect(ctx, c.Sender().ID)
		switch {
		case errors.Is(err, app.ErrAlreadyConnected):
			return c.Send("O WhatsApp do salão já está conectado.")
		case errors.Is(err, gateway.ErrGatewayRejected):
			logCtx.WithError(err).Error("Gateway rejected connect")
			return c.Send("O gateway recusou as credenciais configuradas. Corrija a configuração e use /reload.")
		case err != nil:
			logCtx.WithError(err).Error("Failed to start pairing")
			return c.Send(fmt.Sprintf("Não foi possível iniciar o pareamento: %s", err.Error()))
		}
		logCtx.WithField("has_qr", len(ticket.QRCode) > 0).Info("Pairing started")
		if len(ticket.QRCode) == 0 && ticket.PairingCode == "" {
			return c.Send("Pareamento iniciado. Aguarde o QR code no painel do gateway.")
		}
		return nil // the pairing artifact was already sent by the alerter
	})

	guard("/disconnect", func(c telebot.Context, logCtx *logrus.Entry) error {
		if err := adminService.Disconnect(ctx, c.Sender().ID); err != nil {
			logCtx.WithError(err).Error("Failed to disconnect session")
			return c.Send(fmt.Sprintf("Erro ao desconectar: %s", err.Error()))
		}
		return c.Send("Sessão do WhatsApp desconectada. Os envios automáticos estão pausados.")
	})

	guard("/reset", func(c telebot.Context, logCtx *logrus.Entry) error {
		if err := adminService.Reset(ctx, c.Sender().ID); err != nil {
			logCtx.WithError(err).Error("Failed to reset session")
			return c.Send(fmt.Sprintf("Erro ao remover a sessão: %s", err.Error()))
		}
		return c.Send("Sessão removida do gateway. Use /connect para parear novamente.")
	})

	guard("/reload", func(c telebot.Context, logCtx *logrus.Entry) error {
		err := adminService.Reload(ctx, c.Sender().ID)
		var verr *app.ValidationError
		switch {
		case errors.As(err, &verr):
			logCtx.WithError(err).Warn("Reloaded config is invalid")
			return c.Send(fmt.Sprintf("Configuração inválida: campo %s (%s).", verr.Field, verr.Reason))
		case err != nil:
			logCtx.WithError(err).Error("Failed to reload config")
			return c.Send(fmt.Sprintf("Configuração recarregada, mas o gateway respondeu com erro: %s", err.Error()))
		}
		return c.Send("Configuração recarregada.")
	})

	guard("/failed", func(c telebot.Context, logCtx *logrus.Entry) error {
		entries, err := adminService.ListFailed(ctx, c.Sender().ID, ParseLimit(c.Args()))
		if err != nil {
			logCtx.WithError(err).Error("Failed to list failed messages")
			return c.Send(fmt.Sprintf("Erro ao consultar o histórico: %s", err.Error()))
		}
		return c.Send(FormatEntries("Envios com falha", entries, loc))
	})

	guard("/replies", func(c telebot.Context, logCtx *logrus.Entry) error {
		entries, err := adminService.ListReplies(ctx, c.Sender().ID, ParseLimit(c.Args()))
		if err != nil {
			logCtx.WithError(err).Error("Failed to list replies")
			return c.Send(fmt.Sprintf("Erro ao consultar o histórico: %s", err.Error()))
		}
		return c.Send(FormatEntries("Respostas de clientes", entries, loc))
	})

	guard("/sweep_reminders", func(c telebot.Context, logCtx *logrus.Entry) error {
		report, err := adminService.RunReminderSweep(ctx, c.Sender().ID)
		switch {
		case errors.Is(err, app.ErrSweepInProgress):
			return c.Send("Já existe uma varredura de lembretes em andamento.")
		case err != nil:
			logCtx.WithError(err).Error("Manual reminder sweep failed")
			return c.Send(fmt.Sprintf("Erro na varredura: %s", err.Error()))
		}
		return c.Send(FormatReport(report))
	})
}

// ParseLimit reads the optional count argument of history commands. Zero means default.
func ParseLimit(args []string) int {
	if len(args) == 0 {
		return 0
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

var stateLabels = map[gateway.ConnectionState]string{
	gateway.StateDisconnected:    "desconectado",
	gateway.StateAwaitingPairing: "aguardando pareamento",
	gateway.StateConnecting:      "conectando",
	gateway.StateConnected:       "conectado",
	gateway.StateError:           "erro",
}

func FormatStatus(s app.StatusSummary, pollErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Salão: %s\n", s.TenantName)
	fmt.Fprintf(&b, "Sessão: %s\n", s.SessionID)
	fmt.Fprintf(&b, "Estado: %s\n", stateLabels[s.State])
	if s.Active {
		b.WriteString("Automação: ativa")
	} else {
		b.WriteString("Automação: inativa")
	}
	if pollErr != nil {
		fmt.Fprintf(&b, "\nÚltima consulta ao gateway falhou: %s", pollErr.Error())
	}
	return b.String()
}

func FormatEntries(title string, entries []*notification.LedgerEntry, loc *time.Location) string {
	if len(entries) == 0 {
		return title + ": nenhum registro."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s ---\n", title)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s | %s | %s (%s)", e.UpdatedAt.In(loc).Format("02/01 15:04"), e.Kind, e.RecipientName, e.RecipientPhone)
		switch {
		case e.ReplyText.Valid:
			fmt.Fprintf(&b, " | resposta: %q", e.ReplyText.String)
		case e.FailureDetail.Valid:
			fmt.Fprintf(&b, " | motivo: %s", e.FailureDetail.String)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatReport(r app.SweepReport) string {
	if r.NotReady {
		return "Varredura ignorada: WhatsApp não conectado ou automação inativa."
	}
	return fmt.Sprintf("Varredura concluída: %d candidatos, %d enviados, %d já notificados, %d falhas.",
		r.Candidates, r.Sent, r.Skipped, r.Failed)
}
