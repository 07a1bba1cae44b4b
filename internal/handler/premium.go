package handler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/middleware"
	"github.com/set-night/dealhunter/internal/service"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

// claims live in memory; after a restart admins grant by hand with /add_user
const errClaimDecided = "Заявка уже обработана или устарела"

func (h *Handler) handlePremium(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || !isPrivate(update.Message) {
		return
	}
	h.sendPremium(ctx, update.Message.Chat.ID, update.Message.From)
}

func (h *Handler) handlePremiumCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.answer(ctx, update.CallbackQuery, "")
	h.sendPremium(ctx, callbackChat(update.CallbackQuery), &update.CallbackQuery.From)
}

func (h *Handler) sendPremium(ctx context.Context, chatID int64, from *models.User) {
	status := "Нет"
	if from != nil {
		sub, err := h.ledger.Get(ctx, userKey(from.ID))
		switch {
		case err == nil && sub.IsActiveAt(h.now()):
			status = fmt.Sprintf("Активен до %s (%d дн.)", sub.ExpiresAt.Format("02.01.2006"), sub.DaysLeft(h.now()))
		case err == nil:
			status = "Истёк"
		case !errors.Is(err, domain.ErrSubscriptionMissing):
			h.logger.Error("load subscription", "user_id", from.ID, "error", err)
		}
	}

	text := fmt.Sprintf(
		"💎 <b>Премиум подписка</b>\n\n"+
			"Статус: <b>%s</b>\n\n"+
			"<b>Преимущества:</b>\n"+
			"• /last: %d → %d товаров\n"+
			"• /search: %d → %d результатов\n"+
			"• /watch: скидки от %d%%\n"+
			"• Лимит запросов: %d → %d в минуту\n\n"+
			"💰 Стоимость: <b>%s₽</b> или <b>%s TON</b> за %d дней",
		status,
		config.LastCardsRegular, config.LastCardsPremium,
		config.SearchResults, config.SearchResultsPro,
		config.WatchMinDiscount,
		config.RateLimitRegular, config.RateLimitPremium,
		h.cfg.PremiumPriceRUB.String(), h.cfg.PremiumPriceTON.String(),
		int(h.cfg.SubscriptionDuration.Hours()/24),
	)
	h.reply(ctx, chatID, text, tg.PaymentMethods())
}

func (h *Handler) handlePayCrypto(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.answer(ctx, update.CallbackQuery, "")

	if h.cfg.CryptoWallet == "" {
		h.reply(ctx, callbackChat(update.CallbackQuery), "❌ Оплата криптовалютой временно недоступна.", nil)
		return
	}
	text := fmt.Sprintf(
		"💎 <b>Оплата криптовалютой</b>\n\n"+
			"Переведите <b>%s TON</b> на кошелёк:\n<code>%s</code>\n\n"+
			"В комментарии укажите ваш ID: <code>%d</code>\n\n"+
			"После оплаты нажмите кнопку ниже.",
		h.cfg.PremiumPriceTON.String(),
		html.EscapeString(h.cfg.CryptoWallet),
		update.CallbackQuery.From.ID,
	)
	h.reply(ctx, callbackChat(update.CallbackQuery), text, tg.CheckPayment(string(domain.PaymentCrypto)))
}

func (h *Handler) handlePayCard(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.answer(ctx, update.CallbackQuery, "")

	if h.cfg.CardNumber == "" {
		h.reply(ctx, callbackChat(update.CallbackQuery), "❌ Оплата картой временно недоступна.", nil)
		return
	}
	text := fmt.Sprintf(
		"💳 <b>Оплата картой</b>\n\n"+
			"Переведите <b>%s₽</b> на карту:\n<code>%s</code>\n\n"+
			"В комментарии укажите ваш ID: <code>%d</code>\n\n"+
			"После оплаты нажмите кнопку ниже.",
		h.cfg.PremiumPriceRUB.String(),
		html.EscapeString(h.cfg.CardNumber),
		update.CallbackQuery.From.ID,
	)
	h.reply(ctx, callbackChat(update.CallbackQuery), text, tg.CheckPayment(string(domain.PaymentCard)))
}

// handleCheckPayment forwards a user's payment claim to every admin for review.
func (h *Handler) handleCheckPayment(ctx context.Context, b *bot.Bot, update *models.Update) {
	q := update.CallbackQuery
	if q == nil {
		return
	}

	method, err := domain.ParsePaymentMethod(strings.TrimPrefix(q.Data, tg.CallbackCheckPayment))
	if err != nil {
		h.answer(ctx, q, "Неизвестный способ оплаты")
		return
	}
	h.answer(ctx, q, "")

	text := fmt.Sprintf(
		"💰 <b>Заявка на оплату</b>\n\n"+
			"Пользователь: <code>%d</code> %s\n"+
			"Способ: %s",
		q.From.ID, html.EscapeString(displayName(&q.From)), method,
	)
	payload := fmt.Sprintf("%d_%s", q.From.ID, method)
	markup := tg.ReviewClaim(payload)
	copies := make([]adminCopy, 0, len(h.cfg.AdminIDs))
	for _, adminID := range h.cfg.AdminIDs {
		msg, err := h.out.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:      adminID,
			Text:        text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
		if err != nil {
			h.logger.Error("send payment claim", "admin_id", adminID, "error", err)
			continue
		}
		copies = append(copies, adminCopy{chatID: adminID, messageID: msg.ID})
	}
	h.claims.open(payload, copies)
	h.tgLogger.LogPaymentClaim(q.From.ID, q.From.Username, method)

	h.reply(ctx, callbackChat(q), "⏳ Заявка отправлена администратору. Премиум будет активирован после проверки оплаты.", nil)
}

func (h *Handler) handleApprove(ctx context.Context, b *bot.Bot, update *models.Update) {
	q := update.CallbackQuery
	if q == nil {
		return
	}
	if a := middleware.GetAccess(ctx); a == nil || !a.IsAdmin {
		h.answer(ctx, q, "Недостаточно прав")
		return
	}

	payload := strings.TrimPrefix(q.Data, tg.CallbackApprove)
	userID, method, err := parseClaim(payload)
	if err != nil {
		h.answer(ctx, q, "Некорректная заявка")
		return
	}
	copies, ok := h.claims.take(payload)
	if !ok {
		h.answer(ctx, q, errClaimDecided)
		h.clearTapped(ctx, q)
		return
	}

	sub, err := h.ledger.Grant(ctx, service.GrantRequest{
		UserID:   userKey(userID),
		Duration: h.cfg.SubscriptionDuration,
		Method:   method,
	})
	if err != nil {
		h.claims.restore(payload, copies)
		h.logger.Error("grant subscription", "user_id", userID, "error", err)
		h.tgLogger.LogError(err, "approve payment")
		h.answer(ctx, q, "Ошибка при выдаче премиума")
		return
	}
	h.answer(ctx, q, "Премиум выдан")
	h.closeReview(ctx, copies)

	h.reply(ctx, userID, fmt.Sprintf("🎉 Оплата подтверждена! Премиум активен до <b>%s</b>.", sub.ExpiresAt.Format("02.01.2006")), nil)
	h.reply(ctx, callbackChat(q), fmt.Sprintf("✅ Премиум для <code>%d</code> активен до %s", userID, sub.ExpiresAt.Format("02.01.2006")), nil)
	h.tgLogger.LogGrant(sub, displayName(&q.From))
}

func (h *Handler) handleReject(ctx context.Context, b *bot.Bot, update *models.Update) {
	q := update.CallbackQuery
	if q == nil {
		return
	}
	if a := middleware.GetAccess(ctx); a == nil || !a.IsAdmin {
		h.answer(ctx, q, "Недостаточно прав")
		return
	}

	payload := strings.TrimPrefix(q.Data, tg.CallbackReject)
	userID, _, err := parseClaim(payload)
	if err != nil {
		h.answer(ctx, q, "Некорректная заявка")
		return
	}
	copies, ok := h.claims.take(payload)
	if !ok {
		h.answer(ctx, q, errClaimDecided)
		h.clearTapped(ctx, q)
		return
	}
	h.answer(ctx, q, "Заявка отклонена")
	h.closeReview(ctx, copies)

	h.reply(ctx, userID, "❌ Оплата не найдена. Если вы уверены, что оплатили, свяжитесь с администратором.", nil)
	h.reply(ctx, callbackChat(q), fmt.Sprintf("❌ Заявка <code>%d</code> отклонена", userID), nil)
}

// parseClaim splits "<user id>_<method>".
func parseClaim(payload string) (int64, domain.PaymentMethod, error) {
	idPart, methodPart, ok := strings.Cut(payload, "_")
	if !ok {
		return 0, "", fmt.Errorf("malformed claim %q", payload)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("claim user id: %w", err)
	}
	method, err := domain.ParsePaymentMethod(methodPart)
	if err != nil {
		return 0, "", err
	}
	return id, method, nil
}

func displayName(u *models.User) string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return strconv.FormatInt(u.ID, 10)
	}
}
