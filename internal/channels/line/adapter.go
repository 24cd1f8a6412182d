// Package line connects the bot to the LINE Messaging API: it serves the
// signed webhook and sends replies, pushes and broadcasts.
package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"secretary/internal/channels"
	"secretary/internal/config"
)

// Name is the adapter name used for routing replies.
const Name = "line"

const (
	defaultDedupSize      = 4096
	defaultProcessTimeout = 60 * time.Second
)

// lineAPI abstracts the Messaging API calls used by the adapter, enabling testing with mocks.
type lineAPI interface {
	ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error)
	PushMessage(req *messaging_api.PushMessageRequest, xLineRetryKey string) (*messaging_api.PushMessageResponse, error)
	Broadcast(req *messaging_api.BroadcastRequest, xLineRetryKey string) (*map[string]interface{}, error)
}

// Adapter is the LINE channel. It implements channels.Adapter and serves
// the webhook as an http.Handler.
type Adapter struct {
	api     lineAPI
	secret  string
	handler channels.MessageHandler
	seen    *lru.Cache[string, struct{}]
	timeout time.Duration
	logText bool

	mutex     sync.RWMutex
	startTime time.Time
	received  int64
	skipped   int64
	lastError string
}

// New creates a LINE adapter from configuration.
func New(cfg config.LINEConfig, handler channels.MessageHandler) (*Adapter, error) {
	if cfg.ChannelSecret == "" || cfg.ChannelToken == "" {
		return nil, fmt.Errorf("line channel secret and token are required")
	}
	api, err := messaging_api.NewMessagingApiAPI(cfg.ChannelToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE client: %w", err)
	}
	return newAdapter(api, cfg.ChannelSecret, cfg.DedupSize, handler)
}

func newAdapter(api lineAPI, secret string, dedupSize int, handler channels.MessageHandler) (*Adapter, error) {
	if dedupSize <= 0 {
		dedupSize = defaultDedupSize
	}
	seen, err := lru.New[string, struct{}](dedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Adapter{
		api:       api,
		secret:    secret,
		handler:   handler,
		seen:      seen,
		timeout:   defaultProcessTimeout,
		startTime: time.Now(),
	}, nil
}

// SetHandler sets the handler inbound messages are passed to.
func (a *Adapter) SetHandler(h channels.MessageHandler) {
	a.handler = h
}

// LogMessageContent enables logging of message text.
func (a *Adapter) LogMessageContent(enabled bool) {
	a.logText = enabled
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return Name
}

// Owns reports whether userID is a LINE id. LINE ids carry no channel
// prefix; every other adapter prefixes its ids with "<name>:".
func (a *Adapter) Owns(userID string) bool {
	return userID != "" && !strings.Contains(userID, ":")
}

// Reply answers a webhook event.
func (a *Adapter) Reply(ctx context.Context, replyToken, text string) error {
	_, err := a.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages:   textMessages(text),
	})
	if err != nil {
		return fmt.Errorf("line reply: %w", err)
	}
	return nil
}

// Push sends text to one LINE user.
func (a *Adapter) Push(ctx context.Context, userID, text string) error {
	_, err := a.api.PushMessage(&messaging_api.PushMessageRequest{
		To:       userID,
		Messages: textMessages(text),
	}, "")
	if err != nil {
		return fmt.Errorf("line push to %s: %w", userID, err)
	}
	return nil
}

// Broadcast sends text to every friend of the LINE official account.
func (a *Adapter) Broadcast(ctx context.Context, text string) error {
	_, err := a.api.Broadcast(&messaging_api.BroadcastRequest{
		Messages: textMessages(text),
	}, "")
	if err != nil {
		return fmt.Errorf("line broadcast: %w", err)
	}
	return nil
}

// LINE limits a text message to 5000 characters and a send to 5 messages.
const (
	maxTextRunes    = 5000
	maxSendMessages = 5
)

// textMessages splits text into as many messages as one send allows,
// truncating whatever does not fit.
func textMessages(text string) []messaging_api.MessageInterface {
	runes := []rune(text)
	var msgs []messaging_api.MessageInterface
	for len(msgs) < maxSendMessages {
		n := min(len(runes), maxTextRunes)
		msgs = append(msgs, messaging_api.TextMessage{Text: string(runes[:n])})
		runes = runes[n:]
		if len(runes) == 0 {
			break
		}
	}
	if len(runes) > 0 {
		log.Printf("[LINE] Message truncated, %d characters dropped", len(runes))
	}
	return msgs
}

// Status returns the current adapter status
func (a *Adapter) Status() channels.ChannelStatus {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	status := channels.ChannelStatus{
		Status:  channels.StatusOnline,
		Message: "Webhook ready",
		Details: map[string]any{
			"uptime_seconds":     time.Since(a.startTime).Seconds(),
			"events_received":    a.received,
			"duplicates_skipped": a.skipped,
		},
		Timestamp: time.Now(),
	}
	if a.lastError != "" {
		status.Details["last_error"] = a.lastError
	}
	return status
}

// ServeHTTP handles POST /webhook. An invalid or missing X-Line-Signature
// is answered with 400, any other failure with 500 and the error detail.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[LINE] Panic in webhook: %v", rec)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": fmt.Sprint(rec)})
		}
	}()

	cb, err := webhook.ParseRequest(a.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			log.Printf("[LINE] Rejected webhook with invalid signature from %s", r.RemoteAddr)
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid signature"})
			return
		}
		a.setError(err)
		log.Printf("[LINE] Error in webhook: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}

	// The platform gives up on slow webhooks; processing continues after
	// the client disconnects.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), a.timeout)
	defer cancel()

	for _, event := range cb.Events {
		a.handleEvent(ctx, event)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (a *Adapter) handleEvent(ctx context.Context, event webhook.EventInterface) {
	e, ok := event.(webhook.MessageEvent)
	if !ok {
		return
	}
	text, ok := e.Message.(webhook.TextMessageContent)
	if !ok {
		return
	}

	if e.WebhookEventId != "" {
		if dup, _ := a.seen.ContainsOrAdd(e.WebhookEventId, struct{}{}); dup {
			a.mutex.Lock()
			a.skipped++
			a.mutex.Unlock()
			log.Printf("[LINE] Skipping redelivered event %s", e.WebhookEventId)
			return
		}
		// a panic answers 500, so the platform redelivers the event
		defer func() {
			if rec := recover(); rec != nil {
				a.seen.Remove(e.WebhookEventId)
				panic(rec)
			}
		}()
	}

	msg := channels.Inbound{
		Channel:    Name,
		ReplyToken: e.ReplyToken,
		Text:       text.Text,
		MessageID:  text.Id,
	}
	switch s := e.Source.(type) {
	case webhook.UserSource:
		msg.UserID = s.UserId
	case webhook.GroupSource:
		msg.UserID = s.UserId
		msg.GroupID = s.GroupId
	case webhook.RoomSource:
		msg.UserID = s.UserId
		msg.GroupID = s.RoomId
	}
	if msg.UserID == "" {
		log.Printf("[LINE] Ignoring message without user id")
		return
	}

	a.mutex.Lock()
	a.received++
	a.mutex.Unlock()

	if a.logText {
		log.Printf("[LINE] Message from %s: %q", msg.UserID, msg.Text)
	} else {
		log.Printf("[LINE] Message from %s (%d chars)", msg.UserID, len(msg.Text))
	}

	if a.handler == nil {
		log.Printf("[LINE] No handler configured, dropping message")
		return
	}
	if err := a.handler.Process(ctx, msg); err != nil {
		a.setError(err)
		log.Printf("[LINE] Failed to process message from %s: %v", msg.UserID, err)
	}
}

func (a *Adapter) setError(err error) {
	a.mutex.Lock()
	a.lastError = err.Error()
	a.mutex.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
