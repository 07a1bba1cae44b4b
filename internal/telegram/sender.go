package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/service"
)

const (
	MaxMessageLen = 4096
	MaxCaptionLen = 1024
)

// Sender is the part of *bot.Bot used to post messages.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

// ChatID turns "@channel" or a numeric id string into a value accepted by
// the Bot API.
func ChatID(s string) any {
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id
	}
	return s
}

// rejected reports whether the Bot API refused the request itself. Only then
// is a retry in another shape safe; a timeout may hide a delivered message.
func rejected(err error) bool {
	return errors.Is(err, bot.ErrorBadRequest)
}

// SendHTML sends an HTML message, splitting it into parts if needed.
// Falls back to plain text if the API rejects the HTML.
func SendHTML(ctx context.Context, s Sender, chatID any, text string, markup models.ReplyMarkup) error {
	noPreview := true
	parts := SplitMessage(text, MaxMessageLen)
	for i, part := range parts {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      part,
			ParseMode: models.ParseModeHTML,
			LinkPreviewOptions: &models.LinkPreviewOptions{
				IsDisabled: &noPreview,
			},
		}
		if i == len(parts)-1 && markup != nil {
			params.ReplyMarkup = markup
		}

		if _, err := s.SendMessage(ctx, params); err != nil {
			if !rejected(err) {
				return fmt.Errorf("send message: %w", err)
			}
			slog.Warn("html send rejected, falling back to plain text", "error", err)
			params.ParseMode = ""
			if _, err := s.SendMessage(ctx, params); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

// SendPost sends body with an optional photo. Bodies longer than a caption,
// and photos the API rejects, go out as a plain message instead. Any other
// photo failure is returned as is, since the post may already be out.
func SendPost(ctx context.Context, s Sender, chatID any, body, imageURL string, markup models.ReplyMarkup) error {
	if imageURL != "" && utf8.RuneCountInString(body) <= MaxCaptionLen {
		params := &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &models.InputFileString{Data: imageURL},
			Caption:   body,
			ParseMode: models.ParseModeHTML,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		_, err := s.SendPhoto(ctx, params)
		if err == nil {
			return nil
		}
		if !rejected(err) {
			return fmt.Errorf("send photo: %w", err)
		}
		slog.Warn("photo rejected, falling back to text", "image", imageURL, "error", err)
	}

	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      body,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := s.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send post: %w", err)
	}
	return nil
}

// ChannelSink posts distribution batches to the broadcast channel.
func ChannelSink(s Sender, channelID string) service.Sink {
	chatID := ChatID(channelID)
	return func(ctx context.Context, body, imageURL string) error {
		return SendPost(ctx, s, chatID, body, imageURL, nil)
	}
}
