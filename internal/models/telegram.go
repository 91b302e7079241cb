package models

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
