package channels

import (
	"context"
	"time"
)

// Inbound is a text message received from a chat platform.
type Inbound struct {
	Channel    string // Name of the adapter that received it
	ReplyToken string // Platform token for answering this message once
	UserID     string
	GroupID    string
	Text       string
	MessageID  string
}

// MessageHandler processes inbound messages. Adapters call it once per
// received text message.
type MessageHandler interface {
	Process(ctx context.Context, msg Inbound) error
}

// Adapter is one chat platform the bot can talk on.
type Adapter interface {
	// Name returns the adapter name, also used as Inbound.Channel
	Name() string

	// Owns reports whether userID is addressed through this adapter
	Owns(userID string) bool

	// Reply answers an inbound message identified by its reply token
	Reply(ctx context.Context, replyToken, text string) error

	// Push sends an unsolicited message to one user
	Push(ctx context.Context, userID, text string) error

	// Broadcast sends a message to every subscriber of the platform
	Broadcast(ctx context.Context, text string) error

	// Status returns the current adapter status
	Status() ChannelStatus
}

// Starter is implemented by adapters that run a background receive loop.
type Starter interface {
	Start(ctx context.Context) error
}

// Sink delivers outgoing text. The dispatcher replies through it and the
// scheduled jobs push and broadcast through it.
type Sink interface {
	Reply(ctx context.Context, channel, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
	Broadcast(ctx context.Context, text string) error
}

// ChannelStatus represents the current status of a channel adapter
type ChannelStatus struct {
	Status    StatusCode     `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusCode represents the various states an adapter can be in
type StatusCode string

const (
	StatusInitializing StatusCode = "initializing"
	StatusOnline       StatusCode = "online"
	StatusOffline      StatusCode = "offline"
	StatusError        StatusCode = "error"
)
