package handler

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/middleware"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

const errCatalogUnavailable = "❌ Каталог временно недоступен. Попробуйте позже."

func premium(ctx context.Context) bool {
	a := middleware.GetAccess(ctx)
	return a != nil && (a.IsPremium || a.IsAdmin)
}

func (h *Handler) handleLast(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.sendLast(ctx, update.Message.Chat.ID)
}

func (h *Handler) handleLastCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.answer(ctx, update.CallbackQuery, "")
	h.sendLast(ctx, callbackChat(update.CallbackQuery))
}

// sendLast posts the best current listings one card each.
func (h *Handler) sendLast(ctx context.Context, chatID int64) {
	n := config.LastCardsRegular
	if premium(ctx) {
		n = config.LastCardsPremium
	}

	listings, err := h.catalog.Top(ctx, n)
	if err != nil {
		h.logger.Error("load last listings", "error", err)
		h.reply(ctx, chatID, errCatalogUnavailable, nil)
		return
	}
	if len(listings) == 0 {
		h.reply(ctx, chatID, "😔 Пока нет товаров со скидкой. Загляните позже!", nil)
		return
	}

	for _, l := range listings {
		if err := tg.SendPost(ctx, h.out, chatID, h.format.Card(l), l.ImageURL, nil); err != nil {
			h.logger.Error("send card", "listing_id", l.ID, "error", err)
			return
		}
	}
	if !premium(ctx) {
		h.reply(ctx, chatID, fmt.Sprintf("💎 С премиумом показываем до %d товаров. /premium", config.LastCardsPremium), nil)
	}
}

func (h *Handler) handleTop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.sendTop(ctx, update.Message.Chat.ID)
}

func (h *Handler) handleTopCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.answer(ctx, update.CallbackQuery, "")
	h.sendTop(ctx, callbackChat(update.CallbackQuery))
}

func (h *Handler) sendTop(ctx context.Context, chatID int64) {
	listings, err := h.catalog.Top(ctx, config.TopListSize)
	if err != nil {
		h.logger.Error("load top listings", "error", err)
		h.reply(ctx, chatID, errCatalogUnavailable, nil)
		return
	}
	if len(listings) == 0 {
		h.reply(ctx, chatID, "😔 Пока нет товаров со скидкой. Загляните позже!", nil)
		return
	}
	h.reply(ctx, chatID, h.format.List("🏆 <b>Топ выгодных товаров</b>", listings), nil)
}

func (h *Handler) handleSearch(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	query := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/search"))
	if query == "" {
		h.reply(ctx, chatID, "Использование: /search &lt;запрос&gt;\nНапример: /search наушники", nil)
		return
	}

	n := config.SearchResults
	if premium(ctx) {
		n = config.SearchResultsPro
	}
	listings, err := h.catalog.Search(ctx, query, n)
	if err != nil {
		h.logger.Error("search listings", "query", query, "error", err)
		h.reply(ctx, chatID, errCatalogUnavailable, nil)
		return
	}
	if len(listings) == 0 {
		h.reply(ctx, chatID, fmt.Sprintf("🔍 По запросу «%s» ничего не найдено.", html.EscapeString(query)), nil)
		return
	}
	h.reply(ctx, chatID, h.format.List(fmt.Sprintf("🔍 <b>Результаты: %s</b>", html.EscapeString(query)), listings), nil)
}

// handleWatch lists the deepest discounts; premium only.
func (h *Handler) handleWatch(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID

	if !premium(ctx) {
		h.reply(ctx, chatID, "💎 Эта функция доступна только с премиум подпиской.", tg.PaymentMethods())
		return
	}

	listings, err := h.catalog.Hot(ctx, config.WatchMinDiscount, config.WatchResults)
	if err != nil {
		h.logger.Error("load hot listings", "error", err)
		h.reply(ctx, chatID, errCatalogUnavailable, nil)
		return
	}
	if len(listings) == 0 {
		h.reply(ctx, chatID, fmt.Sprintf("Сейчас нет товаров со скидкой от %d%%.", config.WatchMinDiscount), nil)
		return
	}
	h.reply(ctx, chatID, h.format.List(fmt.Sprintf("🔥 <b>Скидки от %d%%</b>", config.WatchMinDiscount), listings), nil)
}
