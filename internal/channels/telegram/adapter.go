package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"secretary/internal/channels"
	"secretary/internal/config"
)

// Name is the adapter name used for routing replies.
const Name = "telegram"

// UserPrefix marks user ids that belong to Telegram.
const UserPrefix = Name + ":"

// botAPI abstracts the Telegram bot methods used by the adapter, enabling testing with mocks.
type botAPI interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
}

// RecipientsFunc lists the user ids a broadcast goes to.
type RecipientsFunc func(ctx context.Context) ([]string, error)

// Adapter is the Telegram channel. It receives updates by long polling or
// by webhook and implements channels.Adapter.
type Adapter struct {
	bot        botAPI
	config     config.TelegramConfig
	handler    channels.MessageHandler
	recipients RecipientsFunc
	logText    bool
	status     channels.StatusCode
	statusMsg  string
	mutex      sync.RWMutex
	startTime  time.Time
	msgCount   int64
}

// New creates a Telegram adapter. The bot token is checked against the
// Bot API when the client is created.
func New(cfg config.TelegramConfig, handler channels.MessageHandler) (*Adapter, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot_token is required for Telegram adapter")
	}

	a := &Adapter{
		config:  cfg,
		handler: handler,
		status:  channels.StatusInitializing,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(a.handleUpdate),
	}
	if cfg.SecretToken != "" {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.SecretToken))
	}

	telegramBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.bot = telegramBot
	return a, nil
}

func newAdapter(api botAPI, cfg config.TelegramConfig, handler channels.MessageHandler) *Adapter {
	return &Adapter{
		bot:     api,
		config:  cfg,
		handler: handler,
		status:  channels.StatusInitializing,
	}
}

// SetHandler sets the handler inbound messages are passed to.
func (a *Adapter) SetHandler(h channels.MessageHandler) {
	a.handler = h
}

// WithRecipients sets the broadcast recipient source.
func (a *Adapter) WithRecipients(fn RecipientsFunc) *Adapter {
	a.recipients = fn
	return a
}

// LogMessageContent enables logging of message text.
func (a *Adapter) LogMessageContent(enabled bool) {
	a.logText = enabled
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return Name
}

// Owns reports whether userID is a Telegram id.
func (a *Adapter) Owns(userID string) bool {
	return strings.HasPrefix(userID, UserPrefix)
}

// WebhookHandler returns the handler for POST /webhook/telegram. The
// secret token header is checked by the bot library.
func (a *Adapter) WebhookHandler() http.Handler {
	return a.bot.WebhookHandler()
}

// Start starts receiving updates in the background
func (a *Adapter) Start(ctx context.Context) error {
	a.mutex.Lock()
	a.status = channels.StatusInitializing
	a.statusMsg = "Starting Telegram bot"
	a.startTime = time.Now()
	a.mutex.Unlock()

	a.registerCommands(ctx)

	go func() {
		defer func() {
			a.mutex.Lock()
			a.status = channels.StatusOffline
			a.statusMsg = "Bot stopped"
			a.mutex.Unlock()
		}()

		a.mutex.Lock()
		a.status = channels.StatusOnline
		a.statusMsg = "Bot is running"
		a.mutex.Unlock()

		if a.config.WebhookMode {
			log.Printf("[Telegram] Starting webhook mode")
			a.bot.StartWebhook(ctx)
		} else {
			log.Printf("[Telegram] Starting polling mode...")
			a.bot.Start(ctx)
		}
	}()

	return nil
}

// Regex patterns for Telegram markdown conversion
var (
	// Headers: # Header -> *Header* (bold with single asterisk)
	headerRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	// Standard **bold** -> *bold* (Telegram uses single asterisk)
	doubleBoldRe = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	// Links [text](url) -> text (url) - Telegram markdown doesn't do links
	linkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	// Collapse multiple newlines into double newlines
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// convertToTelegramMarkdown converts standard markdown to Telegram's limited subset
func convertToTelegramMarkdown(text string) string {
	result := doubleBoldRe.ReplaceAllString(text, "*$1*")
	result = headerRe.ReplaceAllString(result, "*$1*")
	result = linkRe.ReplaceAllString(result, "$1 ($2)")
	result = multiNewlineRe.ReplaceAllString(result, "\n\n")
	return strings.TrimSpace(result)
}

// Reply answers the chat a message came from. Telegram has no reply
// tokens; the token is "<chat id>" or "<chat id>/<message id>".
func (a *Adapter) Reply(ctx context.Context, replyToken, text string) error {
	chatPart, msgPart, _ := strings.Cut(replyToken, "/")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid reply token: %s", replyToken)
	}
	var replyTo int
	if msgPart != "" {
		replyTo, _ = strconv.Atoi(msgPart)
	}
	return a.send(ctx, chatID, replyTo, text)
}

// Push sends text to a "telegram:<chat id>" user.
func (a *Adapter) Push(ctx context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(userID, UserPrefix), 10, 64)
	if err != nil || !a.Owns(userID) {
		return fmt.Errorf("invalid chat ID: %s", userID)
	}
	return a.send(ctx, chatID, 0, text)
}

// Broadcast pushes text to every recipient. Telegram has no broadcast
// call, so it fans out over the recipient list.
func (a *Adapter) Broadcast(ctx context.Context, text string) error {
	if a.recipients == nil {
		return nil
	}
	users, err := a.recipients(ctx)
	if err != nil {
		return fmt.Errorf("failed to list broadcast recipients: %w", err)
	}

	var errs []error
	sent := 0
	for _, u := range users {
		if !a.Owns(u) {
			continue
		}
		if err := a.Push(ctx, u, text); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if len(errs) > 0 && sent > 0 {
		return fmt.Errorf("%w: %d of %d recipients failed: %w",
			channels.ErrPartialDelivery, len(errs), sent+len(errs), errors.Join(errs...))
	}
	return errors.Join(errs...)
}

// maxMessageRunes is Telegram's limit for one message text.
const maxMessageRunes = 4096

// splitMessage cuts text into pieces Telegram accepts, preferring a line
// break in the second half of each piece. Markdown conversion never makes
// a piece longer.
func splitMessage(text string) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > maxMessageRunes {
		cut := maxMessageRunes
		for i := maxMessageRunes - 1; i > maxMessageRunes/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(parts, string(runes))
}

// send delivers text in as many messages as needed. Only the first one
// quotes replyTo.
func (a *Adapter) send(ctx context.Context, chatID int64, replyTo int, text string) error {
	for i, part := range splitMessage(text) {
		if i > 0 {
			replyTo = 0
		}
		if err := a.sendPart(ctx, chatID, replyTo, part); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) sendPart(ctx context.Context, chatID int64, replyTo int, text string) error {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      convertToTelegramMarkdown(text),
		ParseMode: models.ParseModeMarkdownV1,
	}
	if replyTo > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyTo}
	}

	_, err := a.bot.SendMessage(ctx, params)
	if err != nil && strings.Contains(err.Error(), "can't parse entities") {
		log.Printf("[Telegram] Markdown parsing failed, retrying as plain text: %v", err)
		params.ParseMode = ""
		params.Text = text
		_, err = a.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}

	log.Printf("[Telegram] Message sent to chat %d (%d chars)", chatID, len(text))
	return nil
}

// Status returns the current adapter status
func (a *Adapter) Status() channels.ChannelStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	details := map[string]any{
		"message_count": a.msgCount,
		"webhook_mode":  a.config.WebhookMode,
	}
	if !a.startTime.IsZero() {
		details["uptime_seconds"] = time.Since(a.startTime).Seconds()
	}

	return channels.ChannelStatus{
		Status:    a.status,
		Message:   a.statusMsg,
		Details:   details,
		Timestamp: time.Now(),
	}
}

// handleUpdate processes incoming Telegram updates
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}
	m := update.Message

	msg := channels.Inbound{
		Channel:    Name,
		ReplyToken: fmt.Sprintf("%d/%d", m.Chat.ID, m.ID),
		UserID:     UserPrefix + strconv.FormatInt(m.From.ID, 10),
		Text:       m.Text,
		MessageID:  strconv.Itoa(m.ID),
	}
	if m.Chat.Type != models.ChatTypePrivate {
		msg.GroupID = UserPrefix + strconv.FormatInt(m.Chat.ID, 10)
	}

	a.mutex.Lock()
	a.msgCount++
	a.mutex.Unlock()

	// Privacy-safe logging unless content logging is enabled
	if a.logText {
		log.Printf("[Telegram] Message from %s: %q", msg.UserID, msg.Text)
	} else {
		log.Printf("[Telegram] Received message from chat %d (%d chars)", m.Chat.ID, len(m.Text))
	}

	if a.handler == nil {
		log.Printf("[Telegram] No handler configured, dropping message")
		return
	}
	if err := a.handler.Process(ctx, msg); err != nil {
		log.Printf("[Telegram] Failed to process message from %s: %v", msg.UserID, err)
	}
}

// registerCommands registers slash commands with Telegram's BotFather
func (a *Adapter) registerCommands(ctx context.Context) {
	commands := []models.BotCommand{
		{Command: "help", Description: "顯示幫助訊息"},
		{Command: "tasks", Description: "查看任務列表"},
		{Command: "report", Description: "生成週報"},
		{Command: "settings", Description: "查看設定"},
		{Command: "status", Description: "查看專案狀態"},
	}

	_, err := a.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})
	if err != nil {
		log.Printf("[Telegram] Warning: Failed to register commands: %v", err)
	} else {
		log.Printf("[Telegram] Registered %d slash commands", len(commands))
	}
}
