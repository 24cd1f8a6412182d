package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretary/internal/channels"
)

const testSecret = "test-channel-secret"

type mockAPI struct {
	replies    []*messaging_api.ReplyMessageRequest
	pushes     []*messaging_api.PushMessageRequest
	broadcasts []*messaging_api.BroadcastRequest
	err        error
}

func (m *mockAPI) ReplyMessage(req *messaging_api.ReplyMessageRequest) (*messaging_api.ReplyMessageResponse, error) {
	m.replies = append(m.replies, req)
	return &messaging_api.ReplyMessageResponse{}, m.err
}

func (m *mockAPI) PushMessage(req *messaging_api.PushMessageRequest, _ string) (*messaging_api.PushMessageResponse, error) {
	m.pushes = append(m.pushes, req)
	return &messaging_api.PushMessageResponse{}, m.err
}

func (m *mockAPI) Broadcast(req *messaging_api.BroadcastRequest, _ string) (*map[string]interface{}, error) {
	m.broadcasts = append(m.broadcasts, req)
	return &map[string]interface{}{}, m.err
}

type recordingHandler struct {
	mu   sync.Mutex
	msgs []channels.Inbound
	err  error
	fn   func()
}

func (h *recordingHandler) Process(ctx context.Context, msg channels.Inbound) error {
	h.mu.Lock()
	h.msgs = append(h.msgs, msg)
	h.mu.Unlock()
	if h.fn != nil {
		h.fn()
	}
	return h.err
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func textEvent(eventID, source, text string) string {
	return `{"destination":"Ubot","events":[{
		"type":"message",
		"mode":"active",
		"timestamp":1700000000000,
		"webhookEventId":"` + eventID + `",
		"deliveryContext":{"isRedelivery":false},
		"replyToken":"reply-` + eventID + `",
		"source":` + source + `,
		"message":{"type":"text","id":"m-` + eventID + `","quoteToken":"q","text":"` + text + `"}
	}]}`
}

func post(t *testing.T, a *Adapter, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Line-Signature", signature)
	}
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func newTestAdapter(t *testing.T, h channels.MessageHandler) (*Adapter, *mockAPI) {
	t.Helper()
	api := &mockAPI{}
	a, err := newAdapter(api, testSecret, 16, h)
	require.NoError(t, err)
	return a, api
}

func TestWebhookDeliversTextMessage(t *testing.T) {
	h := &recordingHandler{}
	a, _ := newTestAdapter(t, h)

	body := textEvent("ev1", `{"type":"user","userId":"U123"}`, "/help")
	rec := post(t, a, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	require.Len(t, h.msgs, 1)
	assert.Equal(t, channels.Inbound{
		Channel:    "line",
		ReplyToken: "reply-ev1",
		UserID:     "U123",
		Text:       "/help",
		MessageID:  "m-ev1",
	}, h.msgs[0])
}

func TestWebhookGroupSource(t *testing.T) {
	h := &recordingHandler{}
	a, _ := newTestAdapter(t, h)

	body := textEvent("ev2", `{"type":"group","groupId":"C9","userId":"U5"}`, "hi")
	rec := post(t, a, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.msgs, 1)
	assert.Equal(t, "U5", h.msgs[0].UserID)
	assert.Equal(t, "C9", h.msgs[0].GroupID)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := &recordingHandler{}
	a, _ := newTestAdapter(t, h)
	body := textEvent("ev3", `{"type":"user","userId":"U1"}`, "hi")

	rec := post(t, a, body, "bm90LWEtc2lnbmF0dXJl")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, a, body, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing header")

	assert.Empty(t, h.msgs)
}

func TestWebhookMalformedBody(t *testing.T) {
	a, _ := newTestAdapter(t, &recordingHandler{})
	body := `{"events":`

	rec := post(t, a, body, sign(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "detail")
}

func TestWebhookRecoversFromPanic(t *testing.T) {
	h := &recordingHandler{fn: func() { panic("handler exploded") }}
	a, _ := newTestAdapter(t, h)
	body := textEvent("ev4", `{"type":"user","userId":"U1"}`, "hi")

	rec := post(t, a, body, sign(body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "handler exploded")
}

func TestWebhookProcessesRedeliveryAfterPanic(t *testing.T) {
	calls := 0
	h := &recordingHandler{fn: func() {
		calls++
		if calls == 1 {
			panic("database is locked")
		}
	}}
	a, _ := newTestAdapter(t, h)
	body := textEvent("ev7", `{"type":"user","userId":"U1"}`, "hi")

	rec := post(t, a, body, sign(body))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = post(t, a, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.msgs, 2, "the redelivered event reaches the handler again")
	assert.EqualValues(t, 0, a.Status().Details["duplicates_skipped"])

	rec = post(t, a, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.msgs, 2, "a processed event is still deduplicated")
}

func TestWebhookHandlerErrorStillSucceeds(t *testing.T) {
	h := &recordingHandler{err: errors.New("reply failed")}
	a, _ := newTestAdapter(t, h)
	body := textEvent("ev5", `{"type":"user","userId":"U1"}`, "hi")

	rec := post(t, a, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reply failed", a.Status().Details["last_error"])
}

func TestWebhookSkipsRedelivery(t *testing.T) {
	h := &recordingHandler{}
	a, _ := newTestAdapter(t, h)
	body := textEvent("ev6", `{"type":"user","userId":"U1"}`, "hi")

	post(t, a, body, sign(body))
	rec := post(t, a, body, sign(body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.msgs, 1)
	assert.EqualValues(t, 1, a.Status().Details["duplicates_skipped"])
}

func TestWebhookIgnoresNonTextEvents(t *testing.T) {
	h := &recordingHandler{}
	a, _ := newTestAdapter(t, h)
	body := `{"destination":"Ubot","events":[{
		"type":"follow","mode":"active","timestamp":1,"webhookEventId":"f1",
		"deliveryContext":{"isRedelivery":false},"replyToken":"r",
		"source":{"type":"user","userId":"U1"},"follow":{"isUnblocked":false}
	}]}`

	rec := post(t, a, body, sign(body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.msgs)
}

func TestSendMethods(t *testing.T) {
	a, api := newTestAdapter(t, nil)
	ctx := context.Background()

	require.NoError(t, a.Reply(ctx, "tok", "r"))
	require.NoError(t, a.Push(ctx, "U1", "p"))
	require.NoError(t, a.Broadcast(ctx, "b"))

	require.Len(t, api.replies, 1)
	assert.Equal(t, "tok", api.replies[0].ReplyToken)
	assert.Equal(t, messaging_api.TextMessage{Text: "r"}, api.replies[0].Messages[0])
	require.Len(t, api.pushes, 1)
	assert.Equal(t, "U1", api.pushes[0].To)
	require.Len(t, api.broadcasts, 1)

	api.err = errors.New("quota exceeded")
	assert.ErrorContains(t, a.Push(ctx, "U1", "p"), "quota exceeded")
}

func TestTextMessagesSplitsLongText(t *testing.T) {
	assert.Len(t, textMessages("短訊息"), 1)

	long := strings.Repeat("任", maxTextRunes+10)
	msgs := textMessages(long)
	require.Len(t, msgs, 2)
	assert.Equal(t, maxTextRunes, len([]rune(msgs[0].(messaging_api.TextMessage).Text)))
	assert.Equal(t, strings.Repeat("任", 10), msgs[1].(messaging_api.TextMessage).Text)

	huge := strings.Repeat("x", maxTextRunes*maxSendMessages+1)
	assert.Len(t, textMessages(huge), maxSendMessages, "overflow is truncated")
}

func TestOwns(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	assert.True(t, a.Owns("U4af4980629"))
	assert.False(t, a.Owns("telegram:42"))
	assert.False(t, a.Owns(""))
}
