package dictation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/stt"
	"github.com/loqalabs/loqa-assist/internal/transcript"
	"github.com/mattn/go-shellwords"
)

const (
	haltGrace       = 2 * time.Second
	finalizeTimeout = 45 * time.Second
)

type execDevice struct {
	args         []string
	recognizer   stt.Recognizer
	sampleRate   int
	channels     int
	partialEvery time.Duration
	logger       *slog.Logger
}

// NewExecDevice captures raw s16le PCM from dictation.capture_command's stdout
// and runs recognizer over the growing buffer.
func NewExecDevice(cfg config.DictationConfig, recognizer stt.Recognizer, logger *slog.Logger) (Device, error) {
	args, err := shellwords.NewParser().Parse(cfg.CaptureCommand)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture command is empty")
	}
	return &execDevice{
		args:         args,
		recognizer:   recognizer,
		sampleRate:   cfg.SampleRate,
		channels:     cfg.Channels,
		partialEvery: time.Duration(cfg.PartialEveryMS) * time.Millisecond,
		logger:       logger.With(slog.String("component", "exec-capture")),
	}, nil
}

func (d *execDevice) Open(ctx context.Context) (Capture, error) {
	cmd := exec.CommandContext(ctx, d.args[0], d.args[1:]...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewDeviceError(CodeCaptureFailed, err)
	}
	if err := cmd.Start(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return nil, NewDeviceError(CodeNoDevice, err)
		case errors.Is(err, os.ErrPermission):
			return nil, NewDeviceError(CodePermissionDenied, err)
		}
		return nil, NewDeviceError(CodeCaptureFailed, err)
	}

	c := &execCapture{
		dev:     d,
		cmd:     cmd,
		stderr:  stderr,
		events:  make(chan DeviceEvent, 8),
		stopReq: make(chan struct{}),
	}
	c.active.Store(true)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.read(stdout)
	}()
	go c.run(ctx, readDone)
	return c, nil
}

type execCapture struct {
	dev      *execDevice
	cmd      *exec.Cmd
	stderr   *lockedBuffer
	events   chan DeviceEvent
	stopReq  chan struct{}
	stopOnce sync.Once
	active   atomic.Bool

	mu  sync.Mutex
	pcm []byte
}

func (c *execCapture) Events() <-chan DeviceEvent { return c.events }

func (c *execCapture) Stop() error {
	c.stopOnce.Do(func() { close(c.stopReq) })
	return nil
}

func (c *execCapture) State() CaptureState {
	if c.active.Load() {
		return CaptureActive
	}
	return CaptureInactive
}

func (c *execCapture) read(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.pcm = append(c.pcm, buf[:n]...)
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *execCapture) snapshot() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pcm) &^ 1
	return append([]byte(nil), c.pcm[:n]...)
}

func (c *execCapture) run(ctx context.Context, readDone <-chan struct{}) {
	defer close(c.events)
	defer c.active.Store(false)

	c.events <- DeviceEvent{Kind: EventStarted}

	interval := c.dev.partialEvery
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	transcribed := 0
	for {
		select {
		case <-ctx.Done():
			c.halt(readDone)
			c.events <- DeviceEvent{Kind: EventEnded}
			return
		case <-c.stopReq:
			c.halt(readDone)
			c.finish(ctx)
			return
		case <-readDone:
			if err := c.cmd.Wait(); err != nil {
				detail := strings.TrimSpace(c.stderr.String())
				if detail == "" {
					detail = err.Error()
				}
				c.events <- DeviceEvent{Kind: EventError, Code: CodeCaptureFailed, Detail: detail}
				c.events <- DeviceEvent{Kind: EventEnded}
				return
			}
			c.finish(ctx)
			return
		case <-ticker.C:
			pcm := c.snapshot()
			if len(pcm) == 0 || len(pcm) == transcribed {
				continue
			}
			transcribed = len(pcm)
			res, err := c.dev.recognizer.Transcribe(ctx, c.audio(pcm, false))
			if err != nil {
				c.dev.logger.Debug("partial transcription failed", slog.String("error", err.Error()))
				continue
			}
			if res.Text != "" {
				c.events <- DeviceEvent{Kind: EventResult, Result: transcript.Interim(res.Text)}
			}
		}
	}
}

func (c *execCapture) halt(readDone <-chan struct{}) {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(os.Interrupt)
	}
	select {
	case <-readDone:
	case <-time.After(haltGrace):
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-readDone
	}
	_ = c.cmd.Wait()
}

func (c *execCapture) finish(ctx context.Context) {
	defer func() { c.events <- DeviceEvent{Kind: EventEnded} }()

	pcm := c.snapshot()
	if len(pcm) == 0 {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()
	res, err := c.dev.recognizer.Transcribe(fctx, c.audio(pcm, true))
	if err != nil {
		c.events <- DeviceEvent{Kind: EventError, Code: CodeUnknown, Detail: err.Error()}
		return
	}
	if res.Text != "" {
		c.events <- DeviceEvent{Kind: EventResult, Result: transcript.Final(res.Text)}
	}
}

func (c *execCapture) audio(pcm []byte, final bool) stt.Audio {
	return stt.Audio{PCM: pcm, SampleRate: c.dev.sampleRate, Channels: c.dev.channels, Final: final}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
