package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Telegram sends messages through the bot API.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client

	// baseURL is overridable for tests.
	baseURL string
}

func NewTelegram(botToken, chatID string) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  "https://api.telegram.org",
	}
}

func (t *Telegram) Send(ctx context.Context, title, text string) error {
	if t == nil || t.BotToken == "" {
		return errors.New("telegram disabled")
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.BotToken)
	body, _ := json.Marshal(map[string]string{
		"chat_id":    t.ChatID,
		"text":       title + "\n" + text,
		"parse_mode": "Markdown",
	})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}
	return nil
}
