package telegram

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
)

const defaultEmoji = "🛍️"

var reasonLabels = map[string]string{
	service.ReasonMegaDiscount: "мегаскидка 70%+",
	service.ReasonHugeDiscount: "огромная скидка 50%+",
	service.ReasonGoodDiscount: "хорошая скидка 30%+",
	service.ReasonDiscount:     "скидка 20%+",
	service.ReasonTopRating:    "топ-рейтинг 4.8+",
	service.ReasonHighRating:   "высокий рейтинг 4.5+",
	service.ReasonGoodRating:   "хороший рейтинг 4.0+",
	service.ReasonReviews1000:  "1000+ отзывов",
	service.ReasonReviews500:   "500+ отзывов",
	service.ReasonReviews100:   "100+ отзывов",
}

// ReasonLabel translates a scoring reason for display.
func ReasonLabel(reason string) string {
	if label, ok := reasonLabels[reason]; ok {
		return label
	}
	if amount, ok := strings.CutPrefix(reason, "saves "); ok {
		return "экономия " + amount + "₽"
	}
	return reason
}

// Headline picks the post title by discount depth.
func Headline(discount int) string {
	switch {
	case discount >= 50:
		return "🔥🔥🔥 МЕГАСКИДКА"
	case discount >= 40:
		return "🔥🔥 ГОРЯЧЕЕ ПРЕДЛОЖЕНИЕ"
	case discount >= 30:
		return "🔥 ОТЛИЧНАЯ СКИДКА"
	case discount >= 20:
		return "✅ ХОРОШАЯ СКИДКА"
	default:
		return "💰 ВЫГОДНО"
	}
}

// Formatter renders listings as Telegram HTML.
type Formatter struct {
	ChannelID   string
	BotUsername string
}

// ChannelPost is the broadcast body for one listing.
func (f Formatter) ChannelPost(l domain.Listing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔥 <b>%s</b> 🔥\n\n", Headline(l.DiscountPercent))
	fmt.Fprintf(&sb, "%s <b>%s</b>\n\n", emoji(l), html.EscapeString(l.Name))
	fmt.Fprintf(&sb, "💰 <b>%s₽</b> вместо %s₽\n", service.FormatPrice(l.Price), service.FormatPrice(l.OriginalPrice))
	fmt.Fprintf(&sb, "📉 СКИДКА: %d%%\n\n", l.DiscountPercent)
	fmt.Fprintf(&sb, "⭐ Рейтинг: %s | 👥 %d отзывов\n", formatRating(l.Rating), l.ReviewCount)
	fmt.Fprintf(&sb, "🏪 Магазин: %s\n\n", html.EscapeString(l.Store))

	if len(l.ValueReasons) > 0 {
		sb.WriteString("✨ <b>Почему выгодно:</b>\n")
		for _, r := range l.ValueReasons {
			fmt.Fprintf(&sb, "  • %s\n", html.EscapeString(ReasonLabel(r)))
		}
		sb.WriteString("\n")
	}

	if l.URL != "" {
		fmt.Fprintf(&sb, "👉 <a href=\"%s\">КУПИТЬ СО СКИДКОЙ</a>\n\n", html.EscapeString(l.URL))
	}
	if f.BotUsername != "" {
		fmt.Fprintf(&sb, "⚡️ <b>Хочешь получать такие предложения первым?</b>\n➡️ @%s\n", f.BotUsername)
	}
	if f.ChannelID != "" {
		fmt.Fprintf(&sb, "📢 <b>Наш канал:</b> %s", html.EscapeString(f.ChannelID))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Card is the shorter listing view sent to users in private chat.
func (f Formatter) Card(l domain.Listing) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b>\n\n", emoji(l), html.EscapeString(l.Name))
	fmt.Fprintf(&sb, "💰 <b>%s₽</b> (было %s₽)\n", service.FormatPrice(l.Price), service.FormatPrice(l.OriginalPrice))
	fmt.Fprintf(&sb, "📉 Скидка: %d%% | 🏆 Выгода: %d/100\n\n", l.DiscountPercent, l.ValueScore)
	fmt.Fprintf(&sb, "⭐ Рейтинг: %s | 👥 Отзывов: %d\n", formatRating(l.Rating), l.ReviewCount)
	fmt.Fprintf(&sb, "🏪 Магазин: %s", html.EscapeString(l.Store))
	if l.URL != "" {
		fmt.Fprintf(&sb, "\n\n👉 <a href=\"%s\">Перейти к товару</a>", html.EscapeString(l.URL))
	}
	return sb.String()
}

// List renders a numbered compact list under title.
func (f Formatter) List(title string, listings []domain.Listing) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	for i, l := range listings {
		name := html.EscapeString(truncateRunes(l.Name, 60))
		if l.URL != "" {
			name = fmt.Sprintf("<a href=\"%s\">%s</a>", html.EscapeString(l.URL), name)
		}
		fmt.Fprintf(&sb, "%d. %s %s\n", i+1, emoji(l), name)
		fmt.Fprintf(&sb, "   💰 %s₽ | 📉 -%d%% | 🏆 %d\n\n", service.FormatPrice(l.Price), l.DiscountPercent, l.ValueScore)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// SubscriptionLine describes one ledger record for admin listings.
func SubscriptionLine(sub domain.Subscription, now time.Time) string {
	name := sub.UserID
	if sub.Username != "" {
		name += " (@" + sub.Username + ")"
	} else if sub.FirstName != "" {
		name += " (" + sub.FirstName + ")"
	}
	name = html.EscapeString(name)

	switch {
	case sub.IsStale():
		return fmt.Sprintf("⚠️ %s: нет даты окончания", name)
	case sub.IsActiveAt(now):
		return fmt.Sprintf("✅ %s: до %s (%d дн., %s)", name, sub.ExpiresAt.Format("02.01.2006"), sub.DaysLeft(now), sub.PaymentMethod)
	default:
		return fmt.Sprintf("❌ %s: истекла %s", name, sub.ExpiresAt.Format("02.01.2006"))
	}
}

func emoji(l domain.Listing) string {
	if l.Emoji != "" {
		return l.Emoji
	}
	return defaultEmoji
}

func formatRating(r float64) string {
	if r == 0 {
		return "—"
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}
