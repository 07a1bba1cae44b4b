package telegram

import (
	"github.com/go-telegram/bot/models"
)

// Callback data understood by the handlers.
const (
	CallbackLast         = "last"
	CallbackTop          = "top"
	CallbackPremium      = "premium"
	CallbackPayCrypto    = "pay_crypto"
	CallbackPayCard      = "pay_card"
	CallbackCheckPayment = "check_payment_"
	CallbackApprove      = "approve_"
	CallbackReject       = "reject_"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton creates a URL inline keyboard button.
func URLButton(text, url string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		URL:  url,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

func MainMenu(channelLink string) *models.InlineKeyboardMarkup {
	second := ButtonRow(InlineButton("💎 Премиум", CallbackPremium))
	if channelLink != "" {
		second = append(second, URLButton("📢 Канал", channelLink))
	}
	return InlineKeyboard(
		ButtonRow(
			InlineButton("🔍 Последние скидки", CallbackLast),
			InlineButton("🏆 Топ выгодных", CallbackTop),
		),
		second,
	)
}

func PaymentMethods() *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(
		InlineButton("💎 Криптовалюта", CallbackPayCrypto),
		InlineButton("💳 Карта", CallbackPayCard),
	))
}

// CheckPayment is attached to payment instructions; method is the
// domain.PaymentMethod being claimed.
func CheckPayment(method string) *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(
		InlineButton("✅ Я оплатил", CallbackCheckPayment+method),
	))
}

// ReviewClaim lets an admin approve or reject a payment claim. payload is
// "<user id>_<method>".
func ReviewClaim(payload string) *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(
		InlineButton("✅ Подтвердить", CallbackApprove+payload),
		InlineButton("❌ Отклонить", CallbackReject+payload),
	))
}
