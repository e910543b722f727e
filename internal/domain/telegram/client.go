package telegram

// Client defines an interface for messaging the salon operator on Telegram.
// This helps in decoupling the application logic from the specific bot library.
type Client interface {
	SendMessage(recipientChatID int64, text string) error
	SendPhoto(recipientChatID int64, caption string, png []byte) error
}
