package handler

import (
	"github.com/go-telegram/bot"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

// Register registers all command and callback handlers on the bot instance.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, h.handleHelp)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/last", bot.MatchTypePrefix, h.handleLast)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/top", bot.MatchTypePrefix, h.handleTop)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/search", bot.MatchTypePrefix, h.handleSearch)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/watch", bot.MatchTypePrefix, h.handleWatch)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/premium", bot.MatchTypePrefix, h.handlePremium)

	// Admin commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/admin", bot.MatchTypePrefix, h.handleAdmin)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/users", bot.MatchTypePrefix, h.handleUsers)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypePrefix, h.handleStats)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/add_user", bot.MatchTypePrefix, h.handleAddUser)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/post", bot.MatchTypePrefix, h.handlePost)

	// Menu callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackLast, bot.MatchTypeExact, h.handleLastCallback)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackTop, bot.MatchTypeExact, h.handleTopCallback)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackPremium, bot.MatchTypeExact, h.handlePremiumCallback)

	// Payment callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackPayCrypto, bot.MatchTypeExact, h.handlePayCrypto)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackPayCard, bot.MatchTypeExact, h.handlePayCard)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackCheckPayment, bot.MatchTypePrefix, h.handleCheckPayment)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackApprove, bot.MatchTypePrefix, h.handleApprove)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackReject, bot.MatchTypePrefix, h.handleReject)
}
