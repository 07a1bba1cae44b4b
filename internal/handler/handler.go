package handler

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/dealhunter/internal/config"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/service"
	tg "github.com/set-night/dealhunter/internal/telegram"
)

// Messenger is the part of *bot.Bot the handlers talk through.
type Messenger interface {
	tg.Sender
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
}

// DistributeFunc runs one distribution batch to the channel.
type DistributeFunc func(ctx context.Context) (*domain.DistributionReport, error)

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot         *bot.Bot
	out         Messenger
	cfg         *config.Config
	catalog     *service.Catalog
	ledger      *service.SubscriptionLedger
	format      tg.Formatter
	distribute  DistributeFunc
	tgLogger    *tg.TelegramLogger
	botUsername string
	logger      *slog.Logger
	now         func() time.Time

	// background work started by handlers runs under jobCtx and is tracked by jobs
	jobCtx context.Context
	jobs   sync.WaitGroup

	claims *claimBook
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot *bot.Bot
	// Messenger defaults to Bot.
	Messenger   Messenger
	Cfg         *config.Config
	Catalog     *service.Catalog
	Ledger      *service.SubscriptionLedger
	Formatter   tg.Formatter
	Distribute  DistributeFunc
	TgLogger    *tg.TelegramLogger
	BotUsername string
	Logger      *slog.Logger
	// JobContext bounds batches started from chat; cancel it on shutdown.
	JobContext context.Context
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	out := deps.Messenger
	if out == nil {
		out = deps.Bot
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jobCtx := deps.JobContext
	if jobCtx == nil {
		jobCtx = context.Background()
	}
	return &Handler{
		bot:         deps.Bot,
		out:         out,
		cfg:         deps.Cfg,
		catalog:     deps.Catalog,
		ledger:      deps.Ledger,
		format:      deps.Formatter,
		distribute:  deps.Distribute,
		tgLogger:    deps.TgLogger,
		botUsername: deps.BotUsername,
		logger:      logger,
		now:         time.Now,
		jobCtx:      jobCtx,
		claims:      newClaimBook(),
	}
}

// Wait blocks until background jobs started by handlers have finished.
func (h *Handler) Wait() {
	h.jobs.Wait()
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, markup models.ReplyMarkup) {
	if err := tg.SendHTML(ctx, h.out, chatID, text, markup); err != nil {
		h.logger.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) answer(ctx context.Context, q *models.CallbackQuery, text string) {
	_, err := h.out.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: q.ID,
		Text:            text,
	})
	if err != nil {
		h.logger.Debug("answer callback", "error", err)
	}
}

// callbackChat returns the chat the callback's message lives in, falling
// back to the user's private chat.
func callbackChat(q *models.CallbackQuery) int64 {
	if msg := q.Message.Message; msg != nil {
		return msg.Chat.ID
	}
	return q.From.ID
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func isPrivate(m *models.Message) bool {
	return m.Chat.Type == "private"
}
