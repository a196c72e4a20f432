package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestNewPicksNopWhenDisabled(t *testing.T) {
	cases := []struct {
		enabled bool
		token   string
		chat    int64
	}{
		{false, "t", 1},
		{true, "", 1},
		{true, "t", 0},
	}
	for _, c := range cases {
		n, err := New(c.enabled, c.token, c.chat, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := n.(Nop); !ok {
			t.Fatalf("expected Nop for %+v, got %T", c, n)
		}
	}
}

func TestTelegramNotify(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotChat, gotText, gotMode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotChat = r.FormValue("chat_id")
		gotText = r.FormValue("text")
		gotMode = r.FormValue("parse_mode")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":99,"type":"private"}}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramOptions{Token: "123:abc", ChatID: 99, ServerURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.Notify(context.Background(), FreeSpinMessage("alice<1>")); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(gotPath, "/sendMessage") {
		t.Fatalf("expected sendMessage call, got %s", gotPath)
	}
	if gotChat != "99" {
		t.Fatalf("expected chat 99, got %q", gotChat)
	}
	if gotMode != "HTML" {
		t.Fatalf("expected HTML parse mode, got %q", gotMode)
	}
	if !strings.Contains(gotText, "alice&lt;1&gt;") {
		t.Fatalf("expected escaped identity in text, got %q", gotText)
	}
}

func TestNewTelegramRequiresConfig(t *testing.T) {
	if _, err := NewTelegram(TelegramOptions{ChatID: 1}); err == nil {
		t.Fatalf("expected error without token")
	}
	if _, err := NewTelegram(TelegramOptions{Token: "x"}); err == nil {
		t.Fatalf("expected error without chat id")
	}
}
