package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bagging-bot/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	paths  []string
	bodies []map[string]interface{}
	status int
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	var decoded map[string]interface{}
	_ = json.Unmarshal(body, &decoded)

	r.mu.Lock()
	r.paths = append(r.paths, req.URL.Path)
	r.bodies = append(r.bodies, decoded)
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func newNotifier(t *testing.T, cfg Config) (*Notifier, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	if cfg.Webhook.Enabled {
		cfg.Webhook.URL = srv.URL + "/hook"
	}
	if cfg.Telegram.Enabled {
		cfg.Telegram.BaseURL = srv.URL
	}
	n := New(cfg, zerolog.Nop())
	n.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return n, rec
}

func TestNotifier_WebhookTrade(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Webhook.Enabled = true
	n, rec := newNotifier(t, cfg)

	trade := &models.Trade{
		SessionID: "sess-1", OrderID: "PAPER_1_1", Symbol: "BSTUSDT", Side: models.OrderSideBuy,
		ExecutedQuantity: 100, ExecutedPrice: 0.08, Status: models.TradeFilled, Reason: "LOW_TOKEN_ALLOCATION",
	}
	if err := n.Trade(context.Background(), trade); err != nil {
		t.Fatalf("Trade failed: %v", err)
	}

	if len(rec.bodies) != 1 || rec.paths[0] != "/hook" {
		t.Fatalf("expected one webhook call, got %v", rec.paths)
	}
	body := rec.bodies[0]
	if body["type"] != "trade" || body["timestamp"] != "2024-06-01T12:00:00Z" {
		t.Errorf("unexpected payload %v", body)
	}
	if !strings.Contains(body["title"].(string), "BUY BSTUSDT") {
		t.Errorf("title = %v", body["title"])
	}
	data := body["data"].(map[string]interface{})
	if data["order_id"] != "PAPER_1_1" || data["quantity"].(float64) != 100 {
		t.Errorf("data = %v", data)
	}
}

func TestNotifier_TelegramEscapesAndMasksToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Telegram = TelegramConfig{Enabled: true, BotToken: "123456:ABCDEFGHIJ", ChatID: "42"}
	n, rec := newNotifier(t, cfg)

	if err := n.EmergencyStop(context.Background(), "sess-1", "drawdown <6%> & rising", 81); err != nil {
		t.Fatalf("EmergencyStop failed: %v", err)
	}
	if rec.paths[0] != "/bot123456:ABCDEFGHIJ/sendMessage" {
		t.Errorf("path = %s", rec.paths[0])
	}
	text := rec.bodies[0]["text"].(string)
	if !strings.Contains(text, "drawdown &lt;6%&gt; &amp; rising") || !strings.HasPrefix(text, "<b>") {
		t.Errorf("text not escaped: %q", text)
	}

	rec.status = http.StatusBadGateway
	err := n.EmergencyStop(context.Background(), "sess-1", "again", 90)
	if err == nil {
		t.Fatal("expected an error for a 502")
	}
	if strings.Contains(err.Error(), "ABCDEFGHIJ") {
		t.Errorf("bot token leaked: %v", err)
	}
}

func TestNotifier_LevelFilter(t *testing.T) {
	tests := []struct {
		level Level
		want  []Type
	}{
		{LevelAll, []Type{TypeTrade, TypeEmergency, TypeReport, TypeError}},
		{LevelTradesOnly, []Type{TypeTrade}},
		{LevelErrorsOnly, []Type{TypeEmergency, TypeError}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Level = string(tt.level)
			cfg.Webhook.Enabled = true
			n, rec := newNotifier(t, cfg)

			ctx := context.Background()
			n.Trade(ctx, &models.Trade{Side: models.OrderSideSell, Symbol: "BSTUSDT"})
			n.EmergencyStop(ctx, "s", "r", 1)
			n.CycleReport(ctx, &models.CycleReport{SessionName: "s"})
			n.Error(ctx, "EXECUTION", "boom")

			if len(rec.bodies) != len(tt.want) {
				t.Fatalf("sent %d notifications, want %d", len(rec.bodies), len(tt.want))
			}
			for i, want := range tt.want {
				if rec.bodies[i]["type"] != string(want) {
					t.Errorf("notification %d type = %v, want %s", i, rec.bodies[i]["type"], want)
				}
			}
		})
	}
}

func TestNotifier_NilAndDisabled(t *testing.T) {
	var n *Notifier
	if n.Enabled() {
		t.Error("nil notifier reports enabled")
	}
	if err := n.Error(context.Background(), "INTERNAL", "ignored"); err != nil {
		t.Errorf("nil notifier returned %v", err)
	}

	n = New(DefaultConfig(), zerolog.Nop())
	if n.Enabled() {
		t.Error("default config should have no channels")
	}
	if err := n.CycleReport(context.Background(), &models.CycleReport{}); err != nil {
		t.Errorf("disabled notifier returned %v", err)
	}
}
