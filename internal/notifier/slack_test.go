package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zertoslack/zertoslack/internal/types"
)

var fixedNow = time.Unix(1700000000, 0)

// webhook records every message posted to it
type webhook struct {
	mu       sync.Mutex
	messages []Message
	status   int
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	_ = json.NewDecoder(r.Body).Decode(&msg)
	w.mu.Lock()
	w.messages = append(w.messages, msg)
	status := w.status
	w.mu.Unlock()
	if status != 0 {
		rw.WriteHeader(status)
		_, _ = rw.Write([]byte("invalid_payload"))
		return
	}
	_, _ = rw.Write([]byte("ok"))
}

func (w *webhook) received() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Message(nil), w.messages...)
}

func startWebhook(t *testing.T) (*webhook, string) {
	t.Helper()
	w := &webhook{}
	srv := httptest.NewServer(w)
	t.Cleanup(srv.Close)
	return w, srv.URL
}

func event(level string, dismissed bool) types.ChangeEvent {
	return types.ChangeEvent{
		Source: &types.Source{Label: "zvm-a"},
		Alert: types.Alert{
			Description:    "VPG has low journal history",
			Entity:         "VPG",
			HelpIdentifier: "VPG0009",
			IsDismissed:    dismissed,
			Level:          level,
			Link:           types.Link{Identifier: "a-1"},
			TurnedOn:       "/Date(1531938627284)/",
		},
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name  string
		evt   types.ChangeEvent
		color string
		title string
	}{
		{"warning", event(types.LevelWarning, false), colorWarning, "New alert on zvm-a"},
		{"error", event(types.LevelError, false), colorError, "New alert on zvm-a"},
		{"unknown level", event("Info", false), colorInfo, "New alert on zvm-a"},
		{"dismissed", event(types.LevelError, true), colorInfo, "Alert dismissed on zvm-a"},
		{"removed", event(types.LevelRemoved, false), colorRemoved, "Alert removed on zvm-a"},
		{"removed while dismissed", event(types.LevelRemoved, true), colorRemoved, "Alert removed on zvm-a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := FormatMessage(tt.evt, "host-1", fixedNow)
			require.Len(t, msg.Attachments, 1)
			att := msg.Attachments[0]
			assert.Equal(t, tt.color, att.Color)
			assert.Equal(t, tt.title, att.Title)
			assert.Equal(t, tt.title, att.Fallback)
			assert.Equal(t, "VPG has low journal history", att.Text)
			assert.Equal(t, "host-1", att.Footer)
			assert.Equal(t, int64(1531938627), att.TS)
			assert.Equal(t, []Field{
				{Title: "Entity", Value: "VPG", Short: true},
				{Title: "Id", Value: "VPG0009", Short: true},
			}, att.Fields)
		})
	}
}

func TestFormatMessage_UnparsableTimestamp(t *testing.T) {
	evt := event(types.LevelWarning, false)
	evt.Alert.TurnedOn = ""
	msg := FormatMessage(evt, "host-1", fixedNow)
	assert.Equal(t, fixedNow.Unix(), msg.Attachments[0].TS)
}

func TestSend(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: url, Hostname: "host-1"}, nil, zerolog.Nop())

	require.NoError(t, s.Send(context.Background(), event(types.LevelError, false)))

	got := hook.received()
	require.Len(t, got, 1)
	assert.Equal(t, colorError, got[0].Attachments[0].Color)
}

func TestSend_HTTPError(t *testing.T) {
	hook, url := startWebhook(t)
	hook.mu.Lock()
	hook.status = http.StatusBadRequest
	hook.mu.Unlock()
	s := NewSlack(Config{WebhookURL: url}, nil, zerolog.Nop())

	err := s.Send(context.Background(), event(types.LevelError, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestSend_NoWebhook(t *testing.T) {
	s := NewSlack(Config{}, nil, zerolog.Nop())
	assert.Error(t, s.Send(context.Background(), event(types.LevelError, false)))
}

func TestSendTest(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: url, Hostname: "host-1"}, nil, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }

	require.NoError(t, s.SendTest(context.Background()))

	got := hook.received()
	require.Len(t, got, 1)
	att := got[0].Attachments[0]
	assert.Equal(t, "Service started on host-1", att.Title)
	assert.Equal(t, fixedNow.Unix(), att.TS)
}

func TestHandle_QueueFull(t *testing.T) {
	s := NewSlack(Config{QueueSize: 1}, nil, zerolog.Nop())

	require.NoError(t, s.Handle(event(types.LevelError, false)))
	err := s.Handle(event(types.LevelError, false))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, s.Pending())
}

func TestRun_DeliversInOrder(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: url}, nil, zerolog.Nop())

	first := event(types.LevelRemoved, false)
	second := event(types.LevelWarning, false)
	require.NoError(t, s.Handle(first))
	require.NoError(t, s.Handle(second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return len(hook.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := hook.received()
	assert.Equal(t, colorRemoved, got[0].Attachments[0].Color)
	assert.Equal(t, colorWarning, got[1].Attachments[0].Color)
}

func TestSetWebhookURL(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: "http://127.0.0.1:1/unused"}, nil, zerolog.Nop())
	s.SetWebhookURL(url)

	require.NoError(t, s.Send(context.Background(), event(types.LevelWarning, false)))
	assert.Len(t, hook.received(), 1)
}

func TestRun_FlushesQueueOnShutdown(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: url}, nil, zerolog.Nop())

	require.NoError(t, s.Handle(event(types.LevelRemoved, false)))
	require.NoError(t, s.Handle(event(types.LevelRemoved, false)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Run(ctx)

	assert.Len(t, hook.received(), 2)
	assert.Equal(t, 0, s.Pending())
}

func TestRun_FlushGivesUpAtDeadline(t *testing.T) {
	hook, url := startWebhook(t)
	s := NewSlack(Config{WebhookURL: url, RatePerSecond: 0.01}, nil, zerolog.Nop())
	s.flushTimeout = 50 * time.Millisecond

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Handle(event(types.LevelWarning, false)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flush did not respect its deadline")
	}
	// The limiter's single token covers one delivery; the rest wait past the deadline.
	assert.Len(t, hook.received(), 1)
}
