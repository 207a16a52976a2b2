package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"spot_trader/internal/logger"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends notifications to, and reads commands from, a single
// authorized chat.
type Client struct {
	token      string
	chatID     int64
	baseURL    string
	httpClient *http.Client
	// pollTimeout is the getUpdates long-poll window.
	pollTimeout time.Duration
	retryDelay  time.Duration
}

func New(token, chatID string) (*Client, error) {
	if token == "" || chatID == "" {
		return nil, errors.New("telegram: bot token and chat id are required")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return &Client{
		token:       token,
		chatID:      id,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
		pollTimeout: 60 * time.Second,
		retryDelay:  5 * time.Second,
	}, nil
}

// FromEnv builds a client from TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID.
// It returns nil when either is missing.
func FromEnv() *Client {
	c, err := New(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"))
	if err != nil {
		log.Printf("Warning: Telegram disabled: %v", err)
		return nil
	}
	return c
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// Notify sends text to the configured chat. Failures are logged, never
// returned, so a Telegram outage cannot affect trading.
func (c *Client) Notify(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.Send(ctx, text); err != nil {
		log.Printf("Telegram Alert Failed: %v", err)
	}
}

// Send posts a Markdown message to the configured chat.
func (c *Client) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	logger.Debugf("Telegram Notify: %s", text)

	body, err := json.Marshal(map[string]any{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiResp UpdateResponse
		json.NewDecoder(resp.Body).Decode(&apiResp)
		return fmt.Errorf("sendMessage: status %s: %s", resp.Status, apiResp.Description)
	}
	return nil
}
