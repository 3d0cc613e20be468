package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-desk/internal/applog"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

type recordingSink struct {
	name string
	got  []Notification
	err  error
}

func (r *recordingSink) Notify(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingSink) Name() string { return r.name }

func TestTelegram_OnlyStaffPings(t *testing.T) {
	sender := &fakeSender{}
	tg := NewTelegramWithSender(sender, 42)

	require.NoError(t, tg.Notify(context.Background(), Notification{ChannelID: "c1", Title: "Quote", Text: "hello"}))
	assert.Empty(t, sender.sent)

	require.NoError(t, tg.Notify(context.Background(), Notification{
		ChannelID: "c1",
		Title:     "Transaction Ready",
		Text:      "Builder is ready",
		PingStaff: true,
	}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Equal(t, "Transaction Ready\nTicket c1\n\nBuilder is ready", sender.sent[0].Text)
}

func TestTelegram_SendError(t *testing.T) {
	tg := NewTelegramWithSender(&fakeSender{err: errors.New("boom")}, 1)
	err := tg.Notify(context.Background(), Notification{PingStaff: true})
	assert.ErrorContains(t, err, "boom")
}

func TestMulti_DeliversToAllAndJoinsErrors(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("down")}
	c := &recordingSink{name: "c"}

	err := Multi{a, b, c}.Notify(context.Background(), Notification{ChannelID: "x", Kind: KindTicketView})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b: down")
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1, "a failing sink does not stop delivery")
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogNotifier(applog.NewWithWriter(&buf, "info", true))

	require.NoError(t, l.Notify(context.Background(), Notification{ChannelID: "c9", Kind: KindGroupJoin, Text: "join us"}))
	out := buf.String()
	assert.Contains(t, out, `"channel":"c9"`)
	assert.Contains(t, out, `"msg":"join us"`)
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastAndChannelFilter(t *testing.T) {
	hub := NewHub(applog.Discard(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	all := dialHub(t, wsURL)
	only := dialHub(t, wsURL+"?channel=c2")

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Notify(context.Background(), Notification{ChannelID: "c1", Kind: KindTicketView, Text: "one"}))
	require.NoError(t, hub.Notify(context.Background(), Notification{ChannelID: "c2", Kind: KindTicketView, Text: "two"}))

	var got Notification
	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "one", got.Text)
	require.NoError(t, all.ReadJSON(&got))
	assert.Equal(t, "two", got.Text)

	only.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, only.ReadJSON(&got))
	assert.Equal(t, "two", got.Text, "filtered client skips other channels")
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(applog.Discard(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub := NewHub(applog.Discard(), nil)
	server := httptest.NewServer(hub)
	defer server.Close()

	hub.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}

func TestFormatPlain(t *testing.T) {
	assert.Equal(t, "Ticket c\n\nbody", FormatPlain(Notification{ChannelID: "c", Text: "body"}))
}
