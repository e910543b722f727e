package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"salon_notification_engine/internal/app"
)

func RegisterBotCommands(
	b *telebot.Bot,
	adminService *app.AdminService,
	baseLogger *logrus.Entry, // For contextual logging
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if adminService.IsAdmin(senderID) {
			logCtx.Info("User identified as Admin")
			return c.Send(fmt.Sprintf("Olá, %s! Sou o assistente de notificações do salão. Use /help para ver os comandos.", c.Sender().FirstName))
		}

		logCtx.Info("User is unknown")
		return c.Send("Olá! Este bot é de uso exclusivo da equipe do salão.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if !adminService.IsAdmin(senderID) {
			logCtx.Info("User is unknown, sending restricted help.")
			return c.Send("Não há comandos disponíveis para você.")
		}
		return c.Send(AdminHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func AdminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Comandos do operador:\n\n")
	helpText.WriteString("`/status`\n - Estado da conexão do WhatsApp e da automação.\n\n")
	helpText.WriteString("`/connect`\n - Inicia o pareamento e envia o QR code.\n\n")
	helpText.WriteString("`/disconnect`\n - Desconecta a sessão. Os envios ficam pausados.\n\n")
	helpText.WriteString("`/reset`\n - Remove a sessão do gateway para parear do zero.\n\n")
	helpText.WriteString("`/reload`\n - Recarrega a configuração do salão.\n\n")
	helpText.WriteString("`/failed [n]`\n - Últimos envios com falha.\n\n")
	helpText.WriteString("`/replies [n]`\n - Últimas respostas de clientes.\n\n")
	helpText.WriteString("`/sweep_reminders`\n - Executa agora a varredura de lembretes.\n\n")
	helpText.WriteString("`/help`\n - Mostra esta mensagem.")
	return helpText.String()
}
