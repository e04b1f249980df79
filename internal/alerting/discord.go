package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bondkeeper/internal/logging"
)

const (
	// Discord rejects embed field values longer than this.
	maxFieldValue = 1024
	maxTitle      = 256
)

// DiscordNotifier 通过 Discord webhook 推送 embed 消息。
type DiscordNotifier struct {
	webhookURL string
	footer     string
	userAgent  string
	client     *http.Client
	logger     zerolog.Logger
}

// NewDiscordNotifier 构造 Discord 告警器。
func NewDiscordNotifier(webhookURL, footer, userAgent string, timeout time.Duration, logger zerolog.Logger) *DiscordNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{
		webhookURL: strings.TrimSpace(webhookURL),
		footer:     footer,
		userAgent:  userAgent,
		client:     &http.Client{Timeout: timeout},
		logger:     logging.Component(logger, "alert_discord"),
	}
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title     string       `json:"title"`
	Fields    []Field      `json:"fields"`
	Color     int          `json:"color"`
	Timestamp string       `json:"timestamp"`
	Footer    *embedFooter `json:"footer,omitempty"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// Notify posts a single embed to the webhook.
func (n *DiscordNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(n.render(note))
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.userAgent != "" {
		req.Header.Set("User-Agent", n.userAgent)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord 响应码异常: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	n.logger.Info().Str("kind", note.Kind).Str("title", note.Title).Msg("告警已发送 (Discord)")
	return nil
}

func (n *DiscordNotifier) render(note Notification) webhookPayload {
	ts := note.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	fields := make([]Field, 0, len(note.Fields))
	for _, f := range note.Fields {
		f.Value = truncate(f.Value, maxFieldValue)
		fields = append(fields, f)
	}

	e := embed{
		Title:     truncate(note.Title, maxTitle),
		Fields:    fields,
		Color:     note.Color,
		Timestamp: ts.UTC().Format(time.RFC3339),
	}
	if n.footer != "" {
		e.Footer = &embedFooter{Text: n.footer}
	}
	return webhookPayload{Embeds: []embed{e}}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

var _ Notifier = (*DiscordNotifier)(nil)
