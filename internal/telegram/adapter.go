// Package telegram lets players talk to the promotions assistant from a
// Telegram chat.
package telegram

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"promoagent/internal/brain"
	"promoagent/internal/grounding"
	"promoagent/internal/queue"
)

// Greeting answers /start and /help.
const Greeting = "Welcome. I can provide information regarding casino promotions. Please indicate your country, or the identifier of a promotion, to begin."

// BotAPI abstracts the Telegram Bot API for testing.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ChatBrain runs one conversational turn. *brain.Brain implements it.
type ChatBrain interface {
	Turn(ctx context.Context, sessionID, utterance string) (brain.Reply, error)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithLanes serializes turns of a chat through q.
func WithLanes(q *queue.LaneQueue) Option {
	return func(a *Adapter) {
		if q != nil {
			a.lanes = q
		}
	}
}

// Adapter polls Telegram and answers each chat through the brain. Messages of
// one chat are answered in order; different chats are answered concurrently.
type Adapter struct {
	bot    BotAPI
	chat   ChatBrain
	lanes  *queue.LaneQueue
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAdapter creates a new Telegram adapter. Both bot and chat must be non-nil.
func NewAdapter(bot BotAPI, chat ChatBrain, opts ...Option) *Adapter {
	if bot == nil {
		panic("telegram: bot must not be nil")
	}
	if chat == nil {
		panic("telegram: chat brain must not be nil")
	}
	a := &Adapter{bot: bot, chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	if a.lanes == nil {
		a.lanes = queue.NewLaneQueue()
	}
	return a
}

// ChatIDToSessionID converts a Telegram ChatID to a session id.
func ChatIDToSessionID(chatID int64) string {
	return "telegram:" + strconv.FormatInt(chatID, 10)
}

// HandleUpdate answers a single update and returns once the reply was sent.
// Updates without a message or with empty text are ignored.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := textMessage(update)
	if msg == nil {
		return
	}
	sessionID := ChatIDToSessionID(msg.Chat.ID)
	if err := a.lanes.Do(ctx, sessionID, func(ctx context.Context) error {
		a.answer(ctx, sessionID, msg)
		return nil
	}); err != nil {
		a.logger.Warn("telegram turn dropped", "session", sessionID, "error", err)
	}
}

// dispatch queues the answer in the chat's lane without waiting for it.
func (a *Adapter) dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := textMessage(update)
	if msg == nil {
		return
	}
	sessionID := ChatIDToSessionID(msg.Chat.ID)
	if _, err := a.lanes.Submit(ctx, sessionID, func(ctx context.Context) error {
		a.answer(ctx, sessionID, msg)
		return nil
	}); err != nil {
		a.logger.Warn("telegram turn dropped", "session", sessionID, "error", err)
	}
}

func textMessage(update tgbotapi.Update) *tgbotapi.Message {
	if update.Message == nil || update.Message.Chat == nil || strings.TrimSpace(update.Message.Text) == "" {
		return nil
	}
	return update.Message
}

func (a *Adapter) answer(ctx context.Context, sessionID string, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	var reply string
	switch command(text) {
	case "start", "help":
		reply = Greeting
	default:
		_, _ = a.bot.Send(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))
		r, err := a.chat.Turn(ctx, sessionID, text)
		if err != nil {
			a.logger.Error("telegram turn failed", "session", sessionID, "turn", r.TurnID, "error", err)
		}
		reply = r.Text
		if reply == "" {
			reply = grounding.Failure
		}
	}
	a.send(msg, reply)
}

// command returns the bot command in text ("/start@promo_bot" gives "start"),
// or "" when text is not a command.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.Fields(text[1:])
	if len(name) == 0 {
		return ""
	}
	cmd, _, _ := strings.Cut(name[0], "@")
	return strings.ToLower(cmd)
}

// send posts reply with Telegram Markdown, falling back to plain text when
// Telegram rejects the markup.
func (a *Adapter) send(msg *tgbotapi.Message, reply string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, ToMarkdown(reply))
	out.ParseMode = tgbotapi.ModeMarkdown
	out.ReplyToMessageID = msg.MessageID
	if _, err := a.bot.Send(out); err == nil {
		return
	}
	out.Text = PlainText(reply)
	out.ParseMode = ""
	if _, err := a.bot.Send(out); err != nil {
		a.logger.Warn("telegram send failed", "chat", msg.Chat.ID, "error", err)
	}
}

// ToMarkdown converts **bold** to Telegram's legacy *bold*.
func ToMarkdown(s string) string {
	return strings.ReplaceAll(s, "**", "*")
}

// PlainText removes **bold** markers.
func PlainText(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

// Start begins polling for Telegram updates and processing them.
// Blocks until ctx is canceled or the updates channel closes. When ctx is
// done, StopReceivingUpdates is called.
func (a *Adapter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	a.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.dispatch(ctx, update)
		}
	}
}

// Stop gracefully shuts down the adapter.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
