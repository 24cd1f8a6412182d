// Package console is a local chat channel. It drives the dispatcher from a
// terminal so the bot can be tried without a chat platform.
package console

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"secretary/internal/channels"
)

// Name is the adapter name used for routing replies.
const Name = "console"

// UserPrefix marks user ids that belong to the console.
const UserPrefix = Name + ":"

// Kind tells how an output line reached the console.
type Kind string

const (
	KindReply     Kind = "reply"
	KindPush      Kind = "push"
	KindBroadcast Kind = "broadcast"
)

// Output is a message the bot sent to the console user.
type Output struct {
	Kind Kind
	Text string
	At   time.Time
}

// Adapter delivers bot output to a single local user over a channel.
type Adapter struct {
	userID string
	out    chan Output
	seq    atomic.Int64
}

// New creates a console adapter for the named local user.
func New(user string) *Adapter {
	return &Adapter{
		userID: UserPrefix + user,
		out:    make(chan Output, 32),
	}
}

// UserID returns the id the local user is known by.
func (a *Adapter) UserID() string {
	return a.userID
}

// Output returns the stream of messages sent to the local user.
func (a *Adapter) Output() <-chan Output {
	return a.out
}

// Inbound wraps text typed by the local user.
func (a *Adapter) Inbound(text string) channels.Inbound {
	n := a.seq.Add(1)
	return channels.Inbound{
		Channel:    Name,
		ReplyToken: a.userID,
		UserID:     a.userID,
		Text:       text,
		MessageID:  strings.TrimPrefix(a.userID, UserPrefix) + "-" + strconv.FormatInt(n, 10),
	}
}

// Name returns the adapter name
func (a *Adapter) Name() string {
	return Name
}

// Owns reports whether userID is a console id.
func (a *Adapter) Owns(userID string) bool {
	return strings.HasPrefix(userID, UserPrefix)
}

// Reply sends text to the local user.
func (a *Adapter) Reply(ctx context.Context, _, text string) error {
	return a.emit(ctx, KindReply, text)
}

// Push sends text to the local user.
func (a *Adapter) Push(ctx context.Context, _, text string) error {
	return a.emit(ctx, KindPush, text)
}

// Broadcast sends text to the local user.
func (a *Adapter) Broadcast(ctx context.Context, text string) error {
	return a.emit(ctx, KindBroadcast, text)
}

func (a *Adapter) emit(ctx context.Context, kind Kind, text string) error {
	select {
	case a.out <- Output{Kind: kind, Text: text, At: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current adapter status
func (a *Adapter) Status() channels.ChannelStatus {
	return channels.ChannelStatus{
		Status:    channels.StatusOnline,
		Message:   "Local console",
		Details:   map[string]any{"user_id": a.userID, "pending": len(a.out)},
		Timestamp: time.Now(),
	}
}
