package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

type Telegram struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

type telegramPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func NewTelegram(token, chatID string) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *Telegram) Notify(ctx context.Context, e Event) error {
	if t == nil {
		return nil
	}
	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(e.Status)), e.Container, e.Message)
	return t.Send(ctx, text)
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil {
		return nil
	}
	payload := telegramPayload{ChatID: t.chatID, Text: text}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %s", resp.Status)
	}
	return nil
}
