package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsapp-automation/gateway/internal/config"
)

type botAPI struct {
	mu       sync.Mutex
	paths    []string
	payloads []map[string]string
	status   int
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]string
	_ = json.NewDecoder(r.Body).Decode(&p)
	b.mu.Lock()
	b.paths = append(b.paths, r.URL.Path)
	b.payloads = append(b.payloads, p)
	status := b.status
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (b *botAPI) sent() ([]string, []map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...), append([]map[string]string(nil), b.payloads...)
}

func newTestNotifier(t *testing.T, cfg config.TelegramConfig) (*Notifier, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	log, _ := test.NewNullLogger()
	n := NewNotifier(cfg, log.WithField("test", t.Name())).WithAPIURL(srv.URL)
	n.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return n, api
}

func TestAlertLoggedOut(t *testing.T) {
	n, api := newTestNotifier(t, config.TelegramConfig{Token: "tok", ChatID: "42"})

	n.AlertLoggedOut("15550001111")
	n.Wait()

	paths, payloads := api.sent()
	require.Len(t, payloads, 1)
	assert.Equal(t, "/bottok/sendMessage", paths[0])
	assert.Equal(t, "42", payloads[0]["chat_id"])
	assert.Equal(t, "HTML", payloads[0]["parse_mode"])
	assert.Contains(t, payloads[0]["text"], "LOGGED OUT")
	assert.Contains(t, payloads[0]["text"], "15550001111")
	assert.Contains(t, payloads[0]["text"], "2026-03-14 09:30:00")
}

func TestAlertRetriesExhausted(t *testing.T) {
	n, api := newTestNotifier(t, config.TelegramConfig{Token: "tok", ChatID: "42"})

	n.AlertRetriesExhausted("15550001111", 10)
	n.AlertConnected("15550002222")
	n.Wait()

	_, payloads := api.sent()
	require.Len(t, payloads, 2)
	var texts []string
	for _, p := range payloads {
		texts = append(texts, p["text"])
	}
	assert.Contains(t, texts[0]+texts[1], "Attempts: 10")
	assert.Contains(t, texts[0]+texts[1], "CONNECTED")
}

func TestDisabledWithoutCredentials(t *testing.T) {
	n, api := newTestNotifier(t, config.TelegramConfig{Token: "tok"})

	assert.False(t, n.Enabled())
	n.AlertLoggedOut("1")
	n.Wait()
	assert.NoError(t, n.SendAlert(context.Background(), "hi"))
	_, payloads := api.sent()
	assert.Empty(t, payloads)
}

func TestSendAlertReportsStatus(t *testing.T) {
	n, api := newTestNotifier(t, config.TelegramConfig{Token: "tok", ChatID: "42"})
	api.status = http.StatusUnauthorized

	err := n.SendAlert(context.Background(), "hi")
	assert.EqualError(t, err, "telegram API returned status 401")
}
