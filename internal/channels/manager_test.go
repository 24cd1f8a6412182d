package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	kind, to, text string
}

type fakeAdapter struct {
	name   string
	prefix string
	err    error
	sent   []sent
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Owns(userID string) bool { return strings.HasPrefix(userID, f.prefix) }

func (f *fakeAdapter) Reply(ctx context.Context, token, text string) error {
	f.sent = append(f.sent, sent{"reply", token, text})
	return f.err
}

func (f *fakeAdapter) Push(ctx context.Context, userID, text string) error {
	f.sent = append(f.sent, sent{"push", userID, text})
	return f.err
}

func (f *fakeAdapter) Broadcast(ctx context.Context, text string) error {
	f.sent = append(f.sent, sent{"broadcast", "", text})
	return f.err
}

func (f *fakeAdapter) Status() ChannelStatus {
	return ChannelStatus{Status: StatusOnline, Timestamp: time.Now()}
}

func TestManagerReplyRoutesByChannel(t *testing.T) {
	line := &fakeAdapter{name: "line"}
	tg := &fakeAdapter{name: "telegram", prefix: "telegram:"}
	m := NewManager()
	m.Register(tg)
	m.Register(line)

	require.NoError(t, m.Reply(context.Background(), "line", "tok-1", "hi"))
	assert.Equal(t, []sent{{"reply", "tok-1", "hi"}}, line.sent)
	assert.Empty(t, tg.sent)

	err := m.Reply(context.Background(), "slack", "tok", "hi")
	assert.ErrorIs(t, err, ErrNoAdapter)
}

func TestManagerPushUsesFirstOwner(t *testing.T) {
	tg := &fakeAdapter{name: "telegram", prefix: "telegram:"}
	line := &fakeAdapter{name: "line"} // owns everything
	m := NewManager()
	m.Register(tg)
	m.Register(line)

	ctx := context.Background()
	require.NoError(t, m.Push(ctx, "telegram:42", "a"))
	require.NoError(t, m.Push(ctx, "U123", "b"))

	assert.Equal(t, []sent{{"push", "telegram:42", "a"}}, tg.sent)
	assert.Equal(t, []sent{{"push", "U123", "b"}}, line.sent)
}

func TestManagerPushWithoutOwner(t *testing.T) {
	m := NewManager()
	m.Register(&fakeAdapter{name: "telegram", prefix: "telegram:"})

	err := m.Push(context.Background(), "U123", "x")
	assert.ErrorIs(t, err, ErrNoAdapter)
}

func TestManagerBroadcastContinuesOnFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeAdapter{name: "telegram", prefix: "telegram:", err: boom}
	good := &fakeAdapter{name: "line"}
	m := NewManager()
	m.Register(bad)
	m.Register(good)

	err := m.Broadcast(context.Background(), "weekly")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrPartialDelivery, "line delivered")
	assert.Len(t, good.sent, 1, "line still receives the broadcast")

	status := m.GetStatus()
	assert.EqualValues(t, 1, status["telegram"].Details["failed"])
	assert.EqualValues(t, 1, status["line"].Details["sent"])
}

func TestManagerBroadcastNothingDelivered(t *testing.T) {
	m := NewManager()
	m.Register(&fakeAdapter{name: "telegram", prefix: "telegram:", err: errors.New("down")})
	m.Register(&fakeAdapter{name: "line", err: errors.New("429")})

	err := m.Broadcast(context.Background(), "weekly")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPartialDelivery)

	partial := fmt.Errorf("%w: 1 of 2 recipients failed", ErrPartialDelivery)
	m = NewManager()
	m.Register(&fakeAdapter{name: "telegram", prefix: "telegram:", err: partial})
	m.Register(&fakeAdapter{name: "line", err: errors.New("429")})
	assert.ErrorIs(t, m.Broadcast(context.Background(), "weekly"), ErrPartialDelivery,
		"an adapter that reached some users counts as delivered")
}

func TestManagerRegisterReplaces(t *testing.T) {
	first := &fakeAdapter{name: "line"}
	second := &fakeAdapter{name: "line"}
	m := NewManager()
	m.Register(first)
	m.Register(second)

	require.NoError(t, m.Push(context.Background(), "U1", "x"))
	assert.Empty(t, first.sent)
	assert.Len(t, second.sent, 1)
	assert.Len(t, m.GetStatus(), 1)
}
