package handler

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// adminCopy is one review message sent to an admin for a payment claim.
type adminCopy struct {
	chatID    int64
	messageID int
}

// claimBook tracks payment claims awaiting an admin decision, keyed by the
// "<user id>_<method>" callback payload. A claim is decided once: take hands
// it to exactly one caller.
type claimBook struct {
	mu      sync.Mutex
	pending map[string][]adminCopy
}

func newClaimBook() *claimBook {
	return &claimBook{pending: map[string][]adminCopy{}}
}

// open registers review messages for key. A repeated claim adds its
// messages to the pending one.
func (c *claimBook) open(key string, copies []adminCopy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = append(c.pending[key], copies...)
}

func (c *claimBook) take(key string) ([]adminCopy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	copies, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return copies, ok
}

// restore puts back a claim whose decision failed to apply.
func (c *claimBook) restore(key string, copies []adminCopy) {
	c.open(key, copies)
}

// closeReview strips the approve/reject buttons from every admin copy.
func (h *Handler) closeReview(ctx context.Context, copies []adminCopy) {
	for _, c := range copies {
		h.clearKeyboard(ctx, c.chatID, c.messageID)
	}
}

func (h *Handler) clearKeyboard(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	_, err := h.out.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
	})
	if err != nil {
		h.logger.Warn("clear review keyboard", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// clearTapped removes the keyboard from the message a stale callback came from.
func (h *Handler) clearTapped(ctx context.Context, q *models.CallbackQuery) {
	if msg := q.Message.Message; msg != nil {
		h.clearKeyboard(ctx, msg.Chat.ID, msg.ID)
	}
}
