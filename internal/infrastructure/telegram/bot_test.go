package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDesk/internal/logging"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/review"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	calls    map[string][]url.Values
	failWith map[string]string
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *httptest.Server) {
	t.Helper()
	f := &fakeBotAPI{calls: map[string][]url.Values{}, failWith: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBotAPI) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	parts := strings.Split(r.URL.Path, "/")
	method := parts[len(parts)-1]

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], r.Form)
	fail := f.failWith[method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail != "" {
		_, _ = w.Write([]byte(fail))
		return
	}
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"desk","username":"newsdesk_bot"}}`))
	case "sendMessage":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":-100,"type":"channel"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (f *fakeBotAPI) last(method string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls[method]
	if len(calls) == 0 {
		return nil
	}
	return calls[len(calls)-1]
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient("TOKEN", srv.URL+"/bot%s/%s", 5*time.Second, logging.Discard())
	require.NoError(t, err)
	return c
}

func TestSendMessageToChannel(t *testing.T) {
	f, srv := newFakeBotAPI(t)
	c := newTestClient(t, srv)

	id, err := c.SendMessage(context.Background(), "@newsdesk", "*hi*", tgbotapi.ModeMarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	form := f.last("sendMessage")
	require.NotNil(t, form)
	assert.Equal(t, "@newsdesk", form.Get("chat_id"))
	assert.Equal(t, "*hi*", form.Get("text"))
	assert.Equal(t, "MarkdownV2", form.Get("parse_mode"))
}

func TestSendMessageClassifiesErrors(t *testing.T) {
	f, srv := newFakeBotAPI(t)
	c := newTestClient(t, srv)

	f.failWith["sendMessage"] = `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`
	_, err := c.SendMessage(context.Background(), "-100", "x", "")
	require.Error(t, err)
	assert.True(t, ports.IsTemporary(err))
	assert.Equal(t, 3*time.Second, ports.RetryAfter(err))

	f.failWith["sendMessage"] = `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`
	_, err = c.SendMessage(context.Background(), "-100", "x", "")
	require.Error(t, err)
	assert.False(t, ports.IsTemporary(err))
	var te *ports.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 400, te.Code)

	f.failWith["sendMessage"] = `{"ok":false,"error_code":502,"description":"Bad Gateway"}`
	_, err = c.SendMessage(context.Background(), "-100", "x", "")
	assert.True(t, ports.IsTemporary(err))
}

func TestSendReviewAttachesKeyboard(t *testing.T) {
	f, srv := newFakeBotAPI(t)
	c := newTestClient(t, srv)

	_, err := c.SendReview(context.Background(), "12345", "preview", "d1")
	require.NoError(t, err)

	form := f.last("sendMessage")
	require.NotNil(t, form)
	assert.Equal(t, "12345", form.Get("chat_id"))

	var markup tgbotapi.InlineKeyboardMarkup
	require.NoError(t, json.Unmarshal([]byte(form.Get("reply_markup")), &markup))
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 3)
	assert.Equal(t, review.CallbackData(review.ActionApprove, "d1"), *markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "reject:d1", *markup.InlineKeyboard[0][1].CallbackData)

	require.NoError(t, c.EditMessage(context.Background(), "12345", 42, "APPROVED"))
	edit := f.last("editMessageText")
	require.NotNil(t, edit)
	assert.Equal(t, "42", edit.Get("message_id"))
	assert.Equal(t, "APPROVED", edit.Get("text"))
}

func TestChatTarget(t *testing.T) {
	id, user, err := chatTarget("@chan")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Equal(t, "@chan", user)

	id, user, err = chatTarget(" -1001 ")
	require.NoError(t, err)
	assert.Equal(t, int64(-1001), id)
	assert.Empty(t, user)

	_, _, err = chatTarget("")
	assert.Error(t, err)
	_, _, err = chatTarget("channel")
	assert.Error(t, err)
}

type recordedCallbacks struct {
	data []string
	err  error
}

func (r *recordedCallbacks) HandleCallback(_ context.Context, data string) error {
	r.data = append(r.data, data)
	return r.err
}

type recordedReactions struct {
	channel string
	msgID   int64
	counts  map[string]int
}

func (r *recordedReactions) RecordReactions(_ context.Context, channel string, messageID int64, counts map[string]int) error {
	r.channel, r.msgID, r.counts = channel, messageID, counts
	return nil
}

func decodeUpdate(t *testing.T, raw string) Update {
	t.Helper()
	var u Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestPollerDispatch(t *testing.T) {
	f, srv := newFakeBotAPI(t)
	c := newTestClient(t, srv)
	cbs := &recordedCallbacks{}
	rx := &recordedReactions{}
	p := NewPoller(c, "777", "@newsdesk", cbs, rx, logging.Discard())

	u := decodeUpdate(t, `{"update_id":5,"callback_query":{"id":"cb1","from":{"id":777,"is_bot":false,"first_name":"a"},"data":"approve:d1"}}`)
	p.Dispatch(context.Background(), u)
	assert.Equal(t, []string{"approve:d1"}, cbs.data)
	assert.Equal(t, "Done", f.last("answerCallbackQuery").Get("text"))

	u = decodeUpdate(t, `{"update_id":6,"callback_query":{"id":"cb2","from":{"id":1,"is_bot":false,"first_name":"x"},"data":"approve:d1"}}`)
	p.Dispatch(context.Background(), u)
	assert.Len(t, cbs.data, 1)

	cbs.err = review.ErrNoPendingRequest
	u = decodeUpdate(t, `{"update_id":7,"callback_query":{"id":"cb3","from":{"id":777,"is_bot":false,"first_name":"a"},"data":"reject:d1"}}`)
	p.Dispatch(context.Background(), u)
	assert.Equal(t, "Already handled", f.last("answerCallbackQuery").Get("text"))

	u = decodeUpdate(t, `{"update_id":8,"message_reaction_count":{"chat":{"id":-100,"type":"channel","username":"newsdesk"},"message_id":42,"date":0,"reactions":[{"type":{"type":"emoji","emoji":"👍"},"total_count":4},{"type":{"type":"custom_emoji","custom_emoji_id":"99"},"total_count":1}]}}`)
	p.Dispatch(context.Background(), u)
	assert.Equal(t, "@newsdesk", rx.channel)
	assert.Equal(t, int64(42), rx.msgID)
	assert.Equal(t, map[string]int{"👍": 4, "custom:99": 1}, rx.counts)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	_, srv := newFakeBotAPI(t)
	c := newTestClient(t, srv)
	p := NewPoller(c, "", "", nil, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
