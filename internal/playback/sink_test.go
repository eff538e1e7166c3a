package playback

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assist/internal/bus"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/natsserver"
	"github.com/loqalabs/loqa-assist/internal/protocol"
)

func TestBusSinkPublishesChunksAndFinalMarker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default().Bus
	cfg.Port = -1
	cfg.StoreDir = ""
	srv, err := natsserver.Start(cfg, logger)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	cfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), cfg, "sink-test", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	sub, err := client.Conn().SubscribeSync(protocol.AudioSubject(client.Prefix()))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	stream, err := NewBusSink(client).Open(context.Background(), "utt-1", Format{SampleRate: 22050, Channels: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := stream.Write(SynthChunk{SampleRate: 22050, Channels: 1, PCM: []byte{1, 2}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []protocol.AudioChunk
	for i := 0; i < 2; i++ {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("next msg: %v", err)
		}
		var chunk protocol.AudioChunk
		if err := json.Unmarshal(msg.Data, &chunk); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, chunk)
	}
	if got[0].UtteranceID != "utt-1" || got[0].Final || len(got[0].PCM) != 2 {
		t.Fatalf("unexpected first chunk %+v", got[0])
	}
	if !got[1].Final || got[1].Sequence != 1 {
		t.Fatalf("unexpected final marker %+v", got[1])
	}
}
