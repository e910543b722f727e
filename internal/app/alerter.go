package app

import (
	"context"

	"github.com/sirupsen/logrus"

	domainTelegram "salon_notification_engine/internal/domain/telegram"
)

// Alerter surfaces conditions a human has to act on.
type Alerter interface {
	Alert(ctx context.Context, text string)
	AlertPairing(ctx context.Context, caption string, qrPNG []byte)
}

// OperatorAlerter sends alerts to the salon operator on Telegram, or only logs
// them when no bot is configured.
type OperatorAlerter struct {
	client domainTelegram.Client // may be nil
	chatID int64
	logger *logrus.Entry
}

func NewOperatorAlerter(client domainTelegram.Client, chatID int64, logger *logrus.Entry) *OperatorAlerter {
	return &OperatorAlerter{client: client, chatID: chatID, logger: logger}
}

func (a *OperatorAlerter) Alert(_ context.Context, text string) {
	a.logger.WithField("alert", text).Warn("Operator alert")
	if a.client == nil || a.chatID == 0 {
		return
	}
	if err := a.client.SendMessage(a.chatID, text); err != nil {
		a.logger.WithError(err).Error("Failed to deliver operator alert")
	}
}

func (a *OperatorAlerter) AlertPairing(_ context.Context, caption string, qrPNG []byte) {
	a.logger.WithField("qr_bytes", len(qrPNG)).Info("Pairing artifact issued")
	if a.client == nil || a.chatID == 0 {
		return
	}
	var err error
	if len(qrPNG) > 0 {
		err = a.client.SendPhoto(a.chatID, caption, qrPNG)
	} else {
		err = a.client.SendMessage(a.chatID, caption)
	}
	if err != nil {
		a.logger.WithError(err).Error("Failed to deliver pairing artifact")
	}
}
