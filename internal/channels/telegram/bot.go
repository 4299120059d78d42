// Package telegram connects agents to Telegram: it delivers scheduled
// job payloads and handles inbound group chat updates.
package telegram

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
)

// BotInterface defines the Telegram bot API methods used by this
// package. Tests substitute a mock implementation.
type BotInterface interface {
	// GetMe returns basic information about the bot.
	GetMe(ctx context.Context) (*telego.User, error)

	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)

	// SendPhoto sends a photo to a chat.
	SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error)

	// SendVideo sends a video to a chat.
	SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error)

	// SendChatAction sends a chat action (e.g., typing) to a chat.
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error

	// GetFile fetches file metadata for building a download URL.
	GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error)

	// UpdatesViaLongPolling starts long polling for Telegram updates.
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error)
}

// telegoAdapter wraps telego.Bot to implement BotInterface.
type telegoAdapter struct {
	bot *telego.Bot
}

// NewBotAdapter creates a BotInterface from a telego.Bot instance.
func NewBotAdapter(bot *telego.Bot) BotInterface {
	return &telegoAdapter{bot: bot}
}

func (a *telegoAdapter) GetMe(ctx context.Context) (*telego.User, error) {
	return a.bot.GetMe(ctx)
}

func (a *telegoAdapter) SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	return a.bot.SendMessage(ctx, params)
}

func (a *telegoAdapter) SendPhoto(ctx context.Context, params *telego.SendPhotoParams) (*telego.Message, error) {
	return a.bot.SendPhoto(ctx, params)
}

func (a *telegoAdapter) SendVideo(ctx context.Context, params *telego.SendVideoParams) (*telego.Message, error) {
	return a.bot.SendVideo(ctx, params)
}

func (a *telegoAdapter) SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error {
	return a.bot.SendChatAction(ctx, params)
}

func (a *telegoAdapter) GetFile(ctx context.Context, params *telego.GetFileParams) (*telego.File, error) {
	return a.bot.GetFile(ctx, params)
}

func (a *telegoAdapter) UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, opts ...telego.LongPollingOption) (<-chan telego.Update, error) {
	return a.bot.UpdatesViaLongPolling(ctx, params, opts...)
}

// fileDownloadURL builds the public download URL for a fetched file.
func fileDownloadURL(token, filePath string) string {
	return fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", token, filePath)
}
