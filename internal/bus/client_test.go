package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func startBus(t *testing.T) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg.Servers = []string{srv.ClientURL()}
	client, err := Connect(context.Background(), cfg, "bus-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestRequestJSONRoundTrip(t *testing.T) {
	client := startBus(t)
	sub, err := client.Conn().Subscribe("assist.cmd.echo", func(msg *nats.Msg) {
		var in map[string]string
		_ = json.Unmarshal(msg.Data, &in)
		data, _ := json.Marshal(map[string]string{"echo": in["text"]})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out map[string]string
	if err := client.RequestJSON(ctx, "assist.cmd.echo", map[string]string{"text": "hi"}, &out); err != nil {
		t.Fatalf("request: %v", err)
	}
	if out["echo"] != "hi" {
		t.Fatalf("unexpected reply %v", out)
	}
}

func TestRequestJSONNoResponders(t *testing.T) {
	client := startBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var out map[string]string
	if err := client.RequestJSON(ctx, "assist.cmd.nobody", struct{}{}, &out); err == nil {
		t.Fatal("expected error without responders")
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	client := startBus(t)
	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("ASSIST_TEST", []string{"assist.event.>"}, time.Hour); err != nil {
			t.Fatalf("ensure stream (pass %d): %v", i, err)
		}
	}
	if client.Prefix() != "assist" {
		t.Fatalf("unexpected prefix %q", client.Prefix())
	}
}
