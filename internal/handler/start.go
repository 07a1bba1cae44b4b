package handler

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/middleware"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || !isPrivate(update.Message) {
		return
	}

	name := "друг"
	if a := middleware.GetAccess(ctx); a != nil && a.FirstName != "" {
		name = a.FirstName
	}

	text := fmt.Sprintf(
		"👋 Привет, <b>%s</b>!\n\n"+
			"Я нахожу самые выгодные скидки на маркетплейсах и публикую их в канале %s.\n\n"+
			"Каждый товар получает оценку выгоды от 0 до 100: учитываются скидка, рейтинг, отзывы и сумма экономии.\n\n"+
			"%s",
		html.EscapeString(name),
		html.EscapeString(h.cfg.ChannelID),
		helpText(middleware.GetAccess(ctx)),
	)
	h.reply(ctx, update.Message.Chat.ID, text, tg.MainMenu(h.cfg.ChannelLink()))
}

func (h *Handler) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.reply(ctx, update.Message.Chat.ID, helpText(middleware.GetAccess(ctx)), nil)
}

func helpText(a *middleware.Access) string {
	var sb strings.Builder
	sb.WriteString("📋 <b>Команды:</b>\n" +
		"/last — Последние скидки\n" +
		"/top — Топ выгодных товаров\n" +
		"/search &lt;запрос&gt; — Поиск по товарам\n" +
		"/watch — Скидки от 50% (премиум)\n" +
		"/premium — Премиум подписка")
	if a != nil && a.IsAdmin {
		sb.WriteString("\n\n🛠 <b>Админ:</b>\n" +
			"/admin — Панель администратора\n" +
			"/users — Подписчики\n" +
			"/stats — Статистика\n" +
			"/add_user &lt;id&gt; &lt;дни&gt; — Выдать премиум\n" +
			"/post — Опубликовать подборку сейчас")
	}
	return sb.String()
}
