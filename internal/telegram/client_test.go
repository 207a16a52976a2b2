package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []map[string]any
	updates []string
	served  bool
}

func (b *fakeBot) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bottoken/sendMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		b.mu.Lock()
		b.sent = append(b.sent, body)
		b.mu.Unlock()
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/bottoken/getUpdates", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		first := !b.served
		b.served = true
		b.mu.Unlock()
		if !first {
			time.Sleep(5 * time.Millisecond)
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
			return
		}
		fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, strings.Join(b.updates, ","))
	})
	return mux
}

func (b *fakeBot) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.sent {
		out = append(out, m["text"].(string))
	}
	return out
}

func newTestClient(t *testing.T, bot *fakeBot) *Client {
	srv := httptest.NewServer(bot.handler(t))
	t.Cleanup(srv.Close)

	c, err := New("token", "42")
	require.NoError(t, err)
	c.baseURL = srv.URL
	c.pollTimeout = 0
	c.retryDelay = 10 * time.Millisecond
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New("", "42")
	assert.Error(t, err)
	_, err = New("token", "not-a-number")
	assert.Error(t, err)
}

func TestSend_PostsMarkdownToChat(t *testing.T) {
	bot := &fakeBot{}
	c := newTestClient(t, bot)

	require.NoError(t, c.Send(context.Background(), "hello"))

	require.Len(t, bot.sent, 1)
	assert.Equal(t, "hello", bot.sent[0]["text"])
	assert.Equal(t, "Markdown", bot.sent[0]["parse_mode"])
	assert.Equal(t, float64(42), bot.sent[0]["chat_id"])
}

func TestListen_AnswersOnlyAuthorizedChat(t *testing.T) {
	bot := &fakeBot{updates: []string{
		`{"update_id":1,"message":{"text":"/ping","chat":{"id":42}}}`,
		`{"update_id":2,"message":{"text":"/status","chat":{"id":7},"from":{"username":"mallory"}}}`,
		`{"update_id":3,"message":{"text":"just chatting","chat":{"id":42}}}`,
	}}
	c := newTestClient(t, bot)

	var (
		mu   sync.Mutex
		seen []string
	)
	handler := func(cmd string) string {
		mu.Lock()
		seen = append(seen, cmd)
		mu.Unlock()
		return "Pong 🏓"
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, handler) }()

	require.Eventually(t, func() bool { return len(bot.sentTexts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/ping"}, seen)
	assert.Equal(t, []string{"Pong 🏓"}, bot.sentTexts())
}
