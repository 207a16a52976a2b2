package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Update represents a Telegram Update object (partial schema)
type Update struct {
	UpdateID int `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

type UpdateResponse struct {
	Ok          bool     `json:"ok"`
	Result      []Update `json:"result"`
	Description string   `json:"description"`
	ErrorCode   int      `json:"error_code"`
}

// CommandHandler defines the callback signature for processing commands
type CommandHandler func(command string) string

// Listen long-polls for commands from the authorized chat and replies with
// the handler's response. It blocks until ctx is cancelled.
func (c *Client) Listen(ctx context.Context, handler CommandHandler) error {
	log.Println("Telegram Listener: Started")
	offset := 0

	for {
		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Telegram Listener: Stopped")
				return nil
			}
			log.Printf("Telegram Listener Error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1

			if update.Message.Chat.ID != c.chatID {
				// No reply, so the bot stays invisible to strangers.
				log.Printf("⚠️ UNAUTHORIZED ACCESS ATTEMPT: User %s (ID: %d) tried: %s",
					update.Message.From.Username, update.Message.Chat.ID, update.Message.Text)
				continue
			}

			text := strings.TrimSpace(update.Message.Text)
			if !strings.HasPrefix(text, "/") {
				continue
			}
			log.Printf("Command received: %s", text)
			if response := handler(text); response != "" {
				if err := c.Send(context.WithoutCancel(ctx), response); err != nil {
					log.Printf("Telegram reply failed: %v", err)
				}
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int) ([]Update, error) {
	url := fmt.Sprintf("%s?offset=%d&timeout=%d", c.endpoint("getUpdates"), offset, int(c.pollTimeout/time.Second))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result UpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !result.Ok {
		return nil, fmt.Errorf("api error: %s (code %d)", result.Description, result.ErrorCode)
	}
	return result.Result, nil
}
