// internal/infra/telegram/client.go
package telegram

import (
	"bytes"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the operator Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified recipient.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string) error {
	recipient := &telebot.User{ID: recipientChatID} // The operator talks to the bot in a direct chat
	_, err := tba.bot.Send(recipient, text, &telebot.SendOptions{})
	return err
}

// SendPhoto sends a PNG image with a caption, used for pairing QR codes.
func (tba *TelebotAdapter) SendPhoto(recipientChatID int64, caption string, png []byte) error {
	recipient := &telebot.User{ID: recipientChatID}
	photo := &telebot.Photo{
		File:    telebot.FromReader(bytes.NewReader(png)),
		Caption: caption,
	}
	_, err := tba.bot.Send(recipient, photo)
	return err
}
