package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/gateway/internal/config"
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	timeFormat    = "2006-01-02 15:04:05"
)

// Notifier posts operator alerts to a Telegram chat. A Notifier without a
// token or chat id drops every alert.
type Notifier struct {
	token   string
	chatID  string
	apiURL  string
	client  *http.Client
	log     *logrus.Entry
	now     func() time.Time
	pending sync.WaitGroup
}

func NewNotifier(cfg config.TelegramConfig, log *logrus.Entry) *Notifier {
	return &Notifier{
		token:  cfg.Token,
		chatID: cfg.ChatID,
		apiURL: DefaultAPIURL,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.WithField("component", "telegram"),
		now:    time.Now,
	}
}

// WithAPIURL points the notifier at another Bot API endpoint.
func (n *Notifier) WithAPIURL(url string) *Notifier {
	n.apiURL = url
	return n
}

func (n *Notifier) Enabled() bool {
	return n.token != "" && n.chatID != ""
}

// SendAlert posts message synchronously.
func (n *Notifier) SendAlert(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiURL, n.token)

	payload := map[string]string{
		"chat_id":    n.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// alert sends in the background so callers on the event path never block
// on the Bot API.
func (n *Notifier) alert(kind, msg string) {
	if !n.Enabled() {
		return
	}
	n.pending.Add(1)
	go func() {
		defer n.pending.Done()
		if err := n.SendAlert(context.Background(), msg); err != nil {
			n.log.WithError(err).WithField("alert", kind).Warn("Failed to send alert")
			return
		}
		n.log.WithField("alert", kind).Debug("Alert sent")
	}()
}

// Wait blocks until every in-flight alert has been delivered or failed.
func (n *Notifier) Wait() {
	n.pending.Wait()
}

func (n *Notifier) AlertConnected(number string) {
	n.alert("connected", fmt.Sprintf(`🆕 <b>CONNECTED</b>

📱 Number: %s
⏰ Time: %s`, number, n.now().Format(timeFormat)))
}

func (n *Notifier) AlertLoggedOut(number string) {
	n.alert("logged_out", fmt.Sprintf(`⚠️ <b>LOGGED OUT</b>

📱 Number: %s
📝 Session removed, a new pairing is required
⏰ Time: %s`, number, n.now().Format(timeFormat)))
}

func (n *Notifier) AlertRetriesExhausted(number string, attempts int) {
	n.alert("retries_exhausted", fmt.Sprintf(`❌ <b>RECONNECT FAILED</b>

📱 Number: %s
🔁 Attempts: %d
⚠️ Use /code or /connect-all to retry
⏰ Time: %s`, number, attempts, n.now().Format(timeFormat)))
}
