// Package telegram implements the chat-bot adapter contract described in
// spec.md §6: start({onMessage, onCallback})/stop(), sendMessage with
// long-message splitting, and inline-button capability approvals with a
// 5-minute deny timeout. Grounded on the teacher's
// internal/channels/telegram/adapter.go (go-telegram/bot long-polling
// setup, rate-limited sends) and bot_client.go (interface wrapper around
// *bot.Bot for test injection), generalized from the teacher's unified
// nexusmodels.Message conversion pipeline to the spec's narrower
// chatID/text/callback surface.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

const maxMessageLength = 4096

// IncomingMessage is a normalized inbound chat message.
type IncomingMessage struct {
	ChatID int64
	UserID int64
	Text   string
}

// Callback is a normalized inline-button press.
type Callback struct {
	ChatID int64
	UserID int64
	Data   string
}

// OnMessage and OnCallback are the adapter's inbound hooks.
type OnMessage func(ctx context.Context, msg IncomingMessage)
type OnCallback func(ctx context.Context, cb Callback)

// SendOptions mirrors the spec's sendMessage option bag.
type SendOptions struct {
	ParseMode           string
	DisableNotification bool
	ReplyMarkup         *InlineKeyboard
}

// InlineKeyboard is a grid of buttons; Data is the callback payload.
type InlineKeyboard struct {
	Buttons [][]InlineButton
}

type InlineButton struct {
	Text string
	Data string
}

// BotClient is the subset of *bot.Bot the adapter depends on, allowing a
// fake to be injected in tests.
type BotClient interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error)
	Start(ctx context.Context)
}

// Adapter is the Telegram chat-bot adapter.
type Adapter struct {
	token      string
	client     BotClient
	newBot     func(token string, opts ...tgbot.Option) (BotClient, error)
	logger     *slog.Logger
	onMessage  OnMessage
	onCallback OnCallback

	mu         sync.Mutex
	approvals  map[string]*pendingApproval
	cancelFunc context.CancelFunc
}

type pendingApproval struct {
	cancel context.CancelFunc
}

// New constructs an Adapter. token is the bot token from @BotFather.
func New(token string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		token:     token,
		logger:    logger.With("component", "channels.telegram"),
		approvals: make(map[string]*pendingApproval),
		newBot: func(token string, opts ...tgbot.Option) (BotClient, error) {
			b, err := tgbot.New(token, opts...)
			if err != nil {
				return nil, err
			}
			return realClient{b}, nil
		},
	}
}

type realClient struct{ b *tgbot.Bot }

func (r realClient) SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error) {
	return r.b.SendMessage(ctx, params)
}
func (r realClient) AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error) {
	return r.b.AnswerCallbackQuery(ctx, params)
}
func (r realClient) Start(ctx context.Context) { r.b.Start(ctx) }

// Start begins long-polling for updates, dispatching to onMessage/onCallback.
func (a *Adapter) Start(ctx context.Context, onMessage OnMessage, onCallback OnCallback) error {
	a.onMessage = onMessage
	a.onCallback = onCallback

	runCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(a.handleUpdate),
	}
	client, err := a.newBot(a.token, opts...)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.client = client

	go client.Start(runCtx)
	a.logger.Info("telegram adapter started")
	return nil
}

// Stop halts polling and cancels any pending approvals (resolving to deny).
func (a *Adapter) Stop() {
	a.mu.Lock()
	for _, p := range a.approvals {
		p.cancel()
	}
	a.mu.Unlock()

	if a.cancelFunc != nil {
		a.cancelFunc()
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	switch {
	case update.Message != nil:
		if a.onMessage != nil {
			a.onMessage(ctx, IncomingMessage{
				ChatID: update.Message.Chat.ID,
				UserID: update.Message.From.ID,
				Text:   update.Message.Text,
			})
		}
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if a.onCallback != nil {
			a.onCallback(ctx, Callback{
				ChatID: cb.Message.Message.Chat.ID,
				UserID: cb.From.ID,
				Data:   cb.Data,
			})
		}
		_, _ = a.client.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cb.ID})
	}
}

// SendMessage sends text to chatID, splitting on newline boundaries when it
// exceeds Telegram's 4096-character limit, per spec.md §6.
func (a *Adapter) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		params := &tgbot.SendMessageParams{
			ChatID:              chatID,
			Text:                chunk,
			ParseMode:           models.ParseMode(opts.ParseMode),
			DisableNotification: opts.DisableNotification,
		}
		if opts.ReplyMarkup != nil {
			params.ReplyMarkup = toTelegramKeyboard(*opts.ReplyMarkup)
		}
		if _, err := a.client.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram: send message: %w", err)
		}
	}
	return nil
}

// RequestApproval sends an approve|deny|always inline-button prompt and
// resolves to deny if no callback arrives within 5 minutes, per spec.md §6.
func (a *Adapter) RequestApproval(ctx context.Context, chatID int64, requestID, prompt string, onDecision func(decision string)) error {
	keyboard := InlineKeyboard{Buttons: [][]InlineButton{{
		{Text: "Approve", Data: "approve:" + requestID},
		{Text: "Deny", Data: "deny:" + requestID},
		{Text: "Always", Data: "always:" + requestID},
	}}}

	if err := a.SendMessage(ctx, chatID, prompt, SendOptions{ReplyMarkup: &keyboard}); err != nil {
		return err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	a.mu.Lock()
	a.approvals[requestID] = &pendingApproval{cancel: cancel}
	a.mu.Unlock()

	go func() {
		<-timeoutCtx.Done()
		a.mu.Lock()
		_, stillPending := a.approvals[requestID]
		delete(a.approvals, requestID)
		a.mu.Unlock()
		if stillPending && timeoutCtx.Err() != nil {
			onDecision("deny")
		}
	}()
	return nil
}

// ResolveApproval records a received approve/deny/always decision, cancelling
// its timeout. Returns false if requestID was not pending (already timed out
// or resolved).
func (a *Adapter) ResolveApproval(requestID, decision string) bool {
	a.mu.Lock()
	p, ok := a.approvals[requestID]
	if ok {
		delete(a.approvals, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	return true
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func toTelegramKeyboard(kb InlineKeyboard) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(kb.Buttons))
	for _, row := range kb.Buttons {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: btn.Text, CallbackData: btn.Data})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}
