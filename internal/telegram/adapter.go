// Package telegram adapts the Telegram Bot API to the dispatch layer: it
// long-polls for updates, converts them into commands, text, and button taps,
// and implements the Messenger that carries replies back. All conversation
// logic lives elsewhere; this package only translates.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walktheearth/bookdlbot/internal/bot"
)

// pollTimeout is the long-poll timeout in seconds.
const pollTimeout = 30

// Dispatcher consumes the events this adapter produces. Implemented by the
// bot's dispatch layer.
type Dispatcher interface {
	HandleCommand(ctx context.Context, chatID, name string)
	HandleText(ctx context.Context, chatID, text string)
	HandleButton(ctx context.Context, chatID, payload string)
}

// api is the slice of the Telegram client the adapter uses, extracted so
// tests can script it.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Adapter bridges Telegram updates and the Dispatcher, and sends replies.
type Adapter struct {
	api        api
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New connects to the Telegram Bot API with the given token.
func New(token string, logger *zap.Logger) (*Adapter, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", client.Self.UserName))
	return NewWithAPI(client, logger), nil
}

// NewWithAPI builds an adapter over an existing client. Used by tests.
func NewWithAPI(client api, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{api: client, logger: logger}
}

// SetDispatcher wires the event consumer. Must be called before Run; split
// from construction because the dispatcher needs the adapter as its Messenger.
func (a *Adapter) SetDispatcher(d Dispatcher) {
	a.dispatcher = d
}

// Run long-polls for updates until the context is cancelled. Each update is
// handled synchronously; per-chat ordering is what the dispatch layer's
// session locks rely on.
func (a *Adapter) Run(ctx context.Context) error {
	if a.dispatcher == nil {
		return fmt.Errorf("telegram adapter started without a dispatcher")
	}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := a.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			a.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			a.handleUpdate(ctx, update)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	eventID := uuid.NewString()

	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		// Ack immediately so the client stops showing a spinner; the real
		// answer arrives as a separate message.
		if _, err := a.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
			a.logger.Warn("callback ack failed", zap.String("event_id", eventID), zap.Error(err))
		}
		if cb.Message == nil {
			a.logger.Warn("callback without originating message", zap.String("event_id", eventID))
			return
		}
		chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
		a.logger.Debug("button tap",
			zap.String("event_id", eventID),
			zap.String("chat_id", chatID),
			zap.String("payload", cb.Data))
		a.dispatcher.HandleButton(ctx, chatID, cb.Data)

	case update.Message != nil:
		msg := update.Message
		chatID := strconv.FormatInt(msg.Chat.ID, 10)
		if msg.IsCommand() {
			a.logger.Debug("command",
				zap.String("event_id", eventID),
				zap.String("chat_id", chatID),
				zap.String("command", msg.Command()))
			a.dispatcher.HandleCommand(ctx, chatID, msg.Command())
			return
		}
		if msg.Text == "" {
			// Stickers, photos and other non-text input are not answers to
			// a prompt.
			return
		}
		a.dispatcher.HandleText(ctx, chatID, msg.Text)
	}
}

// Send implements bot.Messenger. A reply with a photo is sent as a captioned
// photo; if that fails the text is sent on its own so the user still gets an
// answer.
func (a *Adapter) Send(_ context.Context, reply bot.Reply) error {
	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat id %q: %w", reply.ChatID, err)
	}

	if reply.PhotoURL != "" {
		_, photoErr := a.api.Send(photoConfig(chatID, reply))
		if photoErr == nil {
			return nil
		}
		a.logger.Warn("photo send failed, falling back to text",
			zap.String("chat_id", reply.ChatID),
			zap.Error(photoErr))
	}

	if _, err := a.api.Send(messageConfig(chatID, reply)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// messageConfig converts a reply into a Telegram text message.
func messageConfig(chatID int64, reply bot.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.HTML {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	if kb, ok := keyboard(reply.Buttons); ok {
		msg.ReplyMarkup = kb
	}
	return msg
}

// photoConfig converts a reply into a photo upload with the text as caption.
func photoConfig(chatID int64, reply bot.Reply) tgbotapi.PhotoConfig {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(reply.PhotoURL))
	photo.Caption = reply.Text
	if reply.HTML {
		photo.ParseMode = tgbotapi.ModeHTML
	}
	if kb, ok := keyboard(reply.Buttons); ok {
		photo.ReplyMarkup = kb
	}
	return photo
}

// keyboard lays buttons out one per row, preserving order.
func keyboard(buttons []bot.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(buttons) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, len(buttons))
	for i, b := range buttons {
		rows[i] = tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}
