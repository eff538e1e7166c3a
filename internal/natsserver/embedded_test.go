package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartSkipsWhenNotEmbedded(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Embedded = false
	srv, err := Start(cfg, newLogger())
	if err != nil || srv != nil {
		t.Fatalf("expected no server, got %v, %v", srv, err)
	}
	srv.Shutdown()
}

func TestStartWithJetStream(t *testing.T) {
	cfg := config.Default().Bus
	cfg.Port = -1
	cfg.StoreDir = t.TempDir()
	srv, err := Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	js, err := conn.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		t.Fatalf("expected jetstream enabled: %v", err)
	}
}
