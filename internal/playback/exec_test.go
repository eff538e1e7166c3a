package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) (dir, path string) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir = t.TempDir()
	path = filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return dir, path
}

func TestExecSynthStreamsChunks(t *testing.T) {
	dir, script := writeScript(t, `cat > "$(dirname "$0")/request.json"
echo '{"pcm_base64":"AAECAw==","final":false}'
echo ''
echo '{"pcm_base64":"BAU=","final":true}'
`)
	synth, err := NewExecSynth("sh "+script, 22050, 1)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	chunks, errs := synth.Synthesize(ctx, SynthRequest{Text: "Hello there", Voice: "en"})
	var got []SynthChunk
	for c := range chunks {
		got = append(got, c)
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two chunks, got %+v", got)
	}
	if !bytes.Equal(got[0].PCM, []byte{0, 1, 2, 3}) || got[0].Final || got[0].Sequence != 0 {
		t.Fatalf("unexpected first chunk %+v", got[0])
	}
	if !got[1].Final || got[1].Sequence != 1 || got[1].SampleRate != 22050 {
		t.Fatalf("unexpected last chunk %+v", got[1])
	}

	data, err := os.ReadFile(filepath.Join(dir, "request.json"))
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	var req execRequest
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Text != "Hello there" || req.Voice != "en" || req.SampleRate != 22050 || req.Channels != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestExecSynthReportsBadOutput(t *testing.T) {
	_, script := writeScript(t, `cat > /dev/null
echo 'not json'
`)
	synth, err := NewExecSynth("sh "+script, 16000, 1)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "x"})
	for range chunks {
	}
	if err := <-errs; err == nil || !strings.Contains(err.Error(), "decode synth chunk") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestExecSynthReportsExitStatus(t *testing.T) {
	_, script := writeScript(t, `cat > /dev/null
exit 4
`)
	synth, err := NewExecSynth("sh "+script, 16000, 1)
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}
	chunks, errs := synth.Synthesize(context.Background(), SynthRequest{Text: "x"})
	for range chunks {
	}
	if err := <-errs; err == nil {
		t.Fatal("expected the exit status to surface")
	}
}

func TestExecSinkWritesPCMAndExpandsFormat(t *testing.T) {
	dir, script := writeScript(t, `echo "$1 $2" > "$(dirname "$0")/args"
cat > "$(dirname "$0")/out.pcm"
`)
	sink, err := NewExecSink("sh " + script + " {rate} {channels}")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	stream, err := sink.Open(context.Background(), "utt-1", Format{SampleRate: 24000, Channels: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, pcm := range [][]byte{{1, 2}, {3, 4, 5}} {
		if err := stream.Write(SynthChunk{PCM: pcm}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := os.ReadFile(filepath.Join(dir, "out.pcm"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("unexpected pcm %v", out)
	}
	args, err := os.ReadFile(filepath.Join(dir, "args"))
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if strings.TrimSpace(string(args)) != "24000 2" {
		t.Fatalf("format placeholders not expanded: %q", args)
	}
}

func TestExecSinkMissingPlayer(t *testing.T) {
	sink, err := NewExecSink("/nonexistent/loqa-player")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, err := sink.Open(context.Background(), "utt-1", Format{SampleRate: 16000, Channels: 1}); err == nil {
		t.Fatal("expected start error for a missing player")
	}
}
