package handler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/middleware"
	"github.com/set-night/dealhunter/internal/service"
	tg "github.com/set-night/dealhunter/internal/telegram"
	"github.com/shopspring/decimal"
)

// adminMessage returns the message when it was sent by an admin.
func adminMessage(ctx context.Context, update *models.Update) *models.Message {
	if update.Message == nil {
		return nil
	}
	if a := middleware.GetAccess(ctx); a == nil || !a.IsAdmin {
		return nil
	}
	return update.Message
}

func (h *Handler) handleAdmin(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := adminMessage(ctx, update)
	if msg == nil {
		return
	}

	text := "🛠 <b>Панель администратора</b>\n\n" +
		"/users [страница] — Подписчики\n" +
		"/stats — Статистика каталога и подписок\n" +
		"/add_user &lt;id&gt; &lt;дни&gt; [crypto|card|manual] — Выдать премиум\n" +
		"/post — Опубликовать подборку сейчас\n\n" +
		fmt.Sprintf("Канал: %s\nАдмины: %s", html.EscapeString(h.cfg.ChannelID), h.cfg.AdminIDsString())
	h.reply(ctx, msg.Chat.ID, text, nil)
}

func (h *Handler) handleUsers(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := adminMessage(ctx, update)
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	page := 1
	if parts := strings.Fields(msg.Text); len(parts) > 1 {
		if p, err := strconv.Atoi(parts[1]); err == nil && p > 0 {
			page = p
		}
	}

	subs, err := h.ledger.List(ctx)
	if err != nil {
		h.logger.Error("list subscriptions", "error", err)
		h.reply(ctx, chatID, "❌ Не удалось загрузить подписчиков.", nil)
		return
	}
	if len(subs) == 0 {
		h.reply(ctx, chatID, "Подписчиков пока нет.", nil)
		return
	}

	sort.SliceStable(subs, func(i, j int) bool { return subs[i].ExpiresAt.After(subs[j].ExpiresAt) })

	pages := (len(subs) + config.UsersPageSize - 1) / config.UsersPageSize
	page = min(page, pages)
	from := (page - 1) * config.UsersPageSize
	to := min(from+config.UsersPageSize, len(subs))

	now := h.now()
	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 <b>Подписчики</b> (%d, стр. %d/%d)\n\n", len(subs), page, pages)
	for _, s := range subs[from:to] {
		sb.WriteString(tg.SubscriptionLine(s, now))
		sb.WriteString("\n")
	}
	h.reply(ctx, chatID, sb.String(), nil)
}

func (h *Handler) handleStats(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := adminMessage(ctx, update)
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	stats, err := h.catalog.Stats(ctx)
	if err != nil {
		h.logger.Error("catalog stats", "error", err)
		h.reply(ctx, chatID, errCatalogUnavailable, nil)
		return
	}
	subs, err := h.ledger.List(ctx)
	if err != nil {
		h.logger.Error("list subscriptions", "error", err)
		h.reply(ctx, chatID, "❌ Не удалось загрузить подписчиков.", nil)
		return
	}
	active, err := h.ledger.CountActive(ctx, h.now())
	if err != nil {
		h.logger.Error("count active subscriptions", "error", err)
	}

	var sb strings.Builder
	sb.WriteString("📊 <b>Статистика</b>\n\n")
	fmt.Fprintf(&sb, "🛍 <b>Товары:</b> %d\n", stats.Total)
	for _, s := range stats.Stores {
		fmt.Fprintf(&sb, "• %s: %d (средняя скидка %d%%, макс. %d%%)\n", html.EscapeString(s.Store), s.Listings, s.AvgDiscount, s.MaxDiscount)
	}
	revenue := h.cfg.PremiumPriceRUB.Mul(decimal.NewFromInt(int64(active)))
	fmt.Fprintf(&sb, "\n💎 <b>Подписки:</b>\nВсего: %d\nАктивных: %d\nОценка выручки: %s₽", len(subs), active, revenue.StringFixed(0))
	h.reply(ctx, chatID, sb.String(), nil)
}

// handleAddUser grants premium by hand: /add_user <id> <days> [method].
func (h *Handler) handleAddUser(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := adminMessage(ctx, update)
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	parts := strings.Fields(msg.Text)
	if len(parts) < 3 {
		h.reply(ctx, chatID, "Использование: /add_user &lt;id&gt; &lt;дни&gt; [crypto|card|manual]", nil)
		return
	}

	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		h.reply(ctx, chatID, "❌ Некорректный ID пользователя.", nil)
		return
	}
	days, err := strconv.Atoi(parts[2])
	if err != nil || days <= 0 {
		h.reply(ctx, chatID, "❌ Некорректное количество дней.", nil)
		return
	}
	method := domain.PaymentManual
	if len(parts) > 3 {
		if method, err = domain.ParsePaymentMethod(parts[3]); err != nil {
			h.reply(ctx, chatID, "❌ Способ оплаты: crypto, card или manual.", nil)
			return
		}
	}

	sub, err := h.ledger.Grant(ctx, service.GrantRequest{
		UserID:   userKey(userID),
		Duration: time.Duration(days) * 24 * time.Hour,
		Method:   method,
	})
	if err != nil {
		h.logger.Error("manual grant", "user_id", userID, "error", err)
		text := "❌ Не удалось выдать премиум."
		if errors.Is(err, domain.ErrStorageUnavailable) {
			text = "❌ Хранилище недоступно, попробуйте позже."
		}
		h.reply(ctx, chatID, text, nil)
		return
	}

	h.reply(ctx, chatID, fmt.Sprintf("✅ Премиум для <code>%d</code> активен до %s", userID, sub.ExpiresAt.Format("02.01.2006")), nil)
	h.reply(ctx, userID, fmt.Sprintf("🎉 Вам выдан премиум до <b>%s</b>!", sub.ExpiresAt.Format("02.01.2006")), nil)
	h.tgLogger.LogGrant(sub, displayName(msg.From))
}

// handlePost starts a distribution batch in the background and reports
// the outcome to the admin when it finishes.
func (h *Handler) handlePost(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := adminMessage(ctx, update)
	if msg == nil {
		return
	}
	chatID := msg.Chat.ID

	if h.distribute == nil {
		h.reply(ctx, chatID, "❌ Публикация не настроена.", nil)
		return
	}
	h.reply(ctx, chatID, "📤 Публикация запущена...", nil)

	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		// the batch outlives the update and stops on shutdown; the summary still goes out
		report, err := h.distribute(h.jobCtx)
		replyCtx := context.WithoutCancel(h.jobCtx)
		if err != nil {
			h.logger.Error("manual distribution", "error", err)
			h.tgLogger.LogError(err, "manual distribution")
			h.reply(replyCtx, chatID, "❌ Ошибка публикации: "+html.EscapeString(err.Error()), nil)
			return
		}
		h.tgLogger.LogDistribution(report)
		h.reply(replyCtx, chatID, postSummary(report), nil)
	}()
}

func postSummary(r *domain.DistributionReport) string {
	if len(r.Items) == 0 {
		return "ℹ️ Нет новых товаров для публикации."
	}
	text := fmt.Sprintf("✅ Опубликовано: %d\n❌ Ошибок: %d\n⏸ Не отправлено: %d", r.Delivered(), r.Failed(), r.Pending())
	if r.Stopped {
		text += "\n\nПубликация была прервана."
	}
	return text
}
