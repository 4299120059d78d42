package telegram

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/bkern/chime/internal/logger"
)

// Sender delivers outbound payloads to Telegram chats. It implements
// the delivery transport consumed by the scheduler and the tools.
type Sender struct {
	bot    BotInterface
	logger *logger.Logger
}

// NewSender creates a Sender.
func NewSender(bot BotInterface, log *logger.Logger) *Sender {
	return &Sender{bot: bot, logger: log}
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	_, err = s.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: id},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to chat %s: %w", chatID, err)
	}
	return nil
}

// SendPhoto sends a photo from a local file path or an http(s) URL.
func (s *Sender) SendPhoto(ctx context.Context, chatID, file string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	input, closeFn, err := inputFile(file)
	if err != nil {
		return err
	}
	defer closeFn()

	_, err = s.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID: telego.ChatID{ID: id},
		Photo:  input,
	})
	if err != nil {
		return fmt.Errorf("failed to send photo to chat %s: %w", chatID, err)
	}
	return nil
}

// SendVideo sends a video from a local file path or an http(s) URL.
func (s *Sender) SendVideo(ctx context.Context, chatID, file string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}

	input, closeFn, err := inputFile(file)
	if err != nil {
		return err
	}
	defer closeFn()

	_, err = s.bot.SendVideo(ctx, &telego.SendVideoParams{
		ChatID: telego.ChatID{ID: id},
		Video:  input,
	})
	if err != nil {
		return fmt.Errorf("failed to send video to chat %s: %w", chatID, err)
	}
	return nil
}

// Typing shows a typing indicator in the chat.
func (s *Sender) Typing(ctx context.Context, chatID string) {
	id, err := parseChatID(chatID)
	if err != nil {
		return
	}
	if err := s.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: id},
		Action: telego.ChatActionTyping,
	}); err != nil {
		s.logger.DebugCtx(ctx, "failed to send typing action",
			logger.Field{Key: "chat_id", Value: chatID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

// inputFile converts a media reference into a telego InputFile. URLs
// pass through; anything else is opened as a local file. The returned
// close function releases the file handle after the send.
func inputFile(file string) (telego.InputFile, func(), error) {
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		return telego.InputFile{URL: file}, func() {}, nil
	}

	f, err := os.Open(file)
	if err != nil {
		return telego.InputFile{}, nil, fmt.Errorf("failed to open media file %s: %w", file, err)
	}
	return telego.InputFile{File: f}, func() { _ = f.Close() }, nil
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}
