// Package telegram connects the gateway to Telegram over long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/kaundiverse/fear-investigator/internal/config"
	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
	"github.com/kaundiverse/fear-investigator/internal/types"
)

// Handler consumes inbound events.
type Handler interface {
	Handle(ctx context.Context, ev *types.Event) error
}

// Bot is the Telegram transport. It implements the gateway's Replier.
type Bot struct {
	bot     *tele.Bot
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
}

// New connects to Telegram. Handlers are registered but polling starts
// only with Start.
func New(cfg config.TelegramConfig) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	L_debug("telegram: creating bot", "token", Mask(cfg.BotToken))
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.BotToken,
		Poller:  &tele.LongPoller{Timeout: timeout},
		OnError: onError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_info("telegram: connected", "bot", "@"+bot.Me.Username, "id", bot.Me.ID)
	return newBot(bot), nil
}

func newBot(bot *tele.Bot) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{bot: bot, ctx: ctx, cancel: cancel}
}

func onError(err error, c tele.Context) {
	if c != nil && c.Sender() != nil {
		L_error("telegram: handler error", "user", c.Sender().ID, "error", err)
		return
	}
	L_error("telegram: error", "error", err)
}

// Attach routes updates to h.
func (b *Bot) Attach(h Handler) {
	b.handler = h

	b.bot.Handle("/start", func(c tele.Context) error {
		return b.dispatch(c, types.EventStart, "")
	})
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		if strings.HasPrefix(c.Text(), "/") {
			L_debug("telegram: ignoring unknown command", "text", c.Text())
			return nil
		}
		return b.dispatch(c, types.EventText, "")
	})

	start := (&tele.ReplyMarkup{}).Data("", types.ActionStartInvestigation)
	b.bot.Handle(&start, func(c tele.Context) error {
		respond(c)
		return b.dispatch(c, types.EventButton, types.ActionStartInvestigation)
	})
	// buttons sent without the unique prefix arrive here with raw data
	b.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		respond(c)
		return b.dispatch(c, types.EventButton, strings.TrimSpace(c.Callback().Data))
	})
	L_debug("telegram: handlers registered")
}

// respond clears the button's loading spinner.
func respond(c tele.Context) {
	if err := c.Respond(); err != nil {
		L_trace("telegram: callback answer failed", "error", err)
	}
}

func (b *Bot) dispatch(c tele.Context, kind types.EventKind, action string) error {
	if b.handler == nil {
		return errors.New("telegram: no handler attached")
	}
	ev := eventFrom(c, kind, action)
	if ev == nil {
		return nil
	}
	MetricInc("telegram", "update_"+string(kind))
	L_trace("telegram: update", "kind", kind, "user", ev.Sender.ID, "chat", ev.Chat.ID)
	return b.handler.Handle(b.ctx, ev)
}

// eventFrom maps a telebot context to an event. Returns nil for updates
// without a sender or chat.
func eventFrom(c tele.Context, kind types.EventKind, action string) *types.Event {
	sender, chat := c.Sender(), c.Chat()
	if sender == nil || chat == nil {
		return nil
	}
	ev := &types.Event{
		Kind: kind,
		Sender: types.Sender{
			ID:        sender.ID,
			IsBot:     sender.IsBot,
			FirstName: sender.FirstName,
			LastName:  sender.LastName,
			Username:  sender.Username,
			Locale:    sender.LanguageCode,
		},
		Chat: types.Chat{
			ID:    chat.ID,
			Type:  string(chat.Type),
			Title: chat.Title,
		},
		Action: action,
	}
	if msg := c.Message(); msg != nil {
		ev.MessageID = msg.ID
		ev.SentAt = msg.Time()
		if kind != types.EventButton {
			ev.Text = msg.Text
		}
	}
	if ev.SentAt.IsZero() || ev.SentAt.Unix() == 0 {
		ev.SentAt = time.Now()
	}
	return ev
}

// Start begins polling in the background.
func (b *Bot) Start() {
	L_info("telegram: starting polling", "bot", "@"+b.bot.Me.Username)
	go b.bot.Start()
}

// Stop stops polling and cancels in-flight handlers' context.
func (b *Bot) Stop() {
	L_info("telegram: stopping bot")
	b.cancel()
	b.bot.Stop()
}

// SendText sends text, split into chunks Telegram accepts.
func (b *Bot) SendText(_ context.Context, chatID int64, text string) error {
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range splitMessage(text, maxTelegramMessage) {
		if _, err := b.bot.Send(chat, chunk); err != nil {
			MetricFail("telegram", "send")
			return fmt.Errorf("failed to send text chunk %d: %w", i+1, err)
		}
	}
	MetricSuccess("telegram", "send")
	return nil
}

// SendWithButton sends text with one inline button carrying action.
func (b *Bot) SendWithButton(_ context.Context, chatID int64, text, label, action string) error {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data(label, action)))

	if _, err := b.bot.Send(&tele.Chat{ID: chatID}, text, markup); err != nil {
		MetricFail("telegram", "send")
		return fmt.Errorf("failed to send button message: %w", err)
	}
	MetricSuccess("telegram", "send")
	return nil
}

// EditText replaces the text of a sent message, dropping its buttons.
func (b *Bot) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	msg := &tele.Message{ID: messageID, Chat: &tele.Chat{ID: chatID}}
	if _, err := b.bot.Edit(msg, text); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

// Typing shows the typing indicator.
func (b *Bot) Typing(_ context.Context, chatID int64) error {
	return b.bot.Notify(&tele.Chat{ID: chatID}, tele.Typing)
}
