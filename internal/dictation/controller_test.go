package dictation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/transcript"
)

type fakeCapture struct {
	events    chan DeviceEvent
	stops     atomic.Int32
	inactive  atomic.Bool
	closeOnce sync.Once
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{events: make(chan DeviceEvent, 16)}
}

func (f *fakeCapture) Events() <-chan DeviceEvent { return f.events }

func (f *fakeCapture) Stop() error {
	f.stops.Add(1)
	return nil
}

func (f *fakeCapture) State() CaptureState {
	if f.inactive.Load() {
		return CaptureInactive
	}
	return CaptureActive
}

func (f *fakeCapture) emit(ev DeviceEvent) { f.events <- ev }

func (f *fakeCapture) end() {
	f.closeOnce.Do(func() {
		f.inactive.Store(true)
		f.events <- DeviceEvent{Kind: EventEnded}
		close(f.events)
	})
}

// vanish closes the channel without an ended event.
func (f *fakeCapture) vanish() {
	f.closeOnce.Do(func() { close(f.events) })
}

type fakeDevice struct {
	mu       sync.Mutex
	captures []*fakeCapture
	err      error
}

func (d *fakeDevice) Open(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeCapture()
	d.captures = append(d.captures, c)
	go func() {
		<-ctx.Done()
		c.end()
	}()
	return c, nil
}

func (d *fakeDevice) last() *fakeCapture {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures[len(d.captures)-1]
}

type recorder struct {
	mu        sync.Mutex
	submitted []string
	snapshots []Snapshot
}

func (r *recorder) submit(_ context.Context, q string) {
	r.mu.Lock()
	r.submitted = append(r.submitted, q)
	r.mu.Unlock()
}

func (r *recorder) DictationChanged(s Snapshot) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, s)
	r.mu.Unlock()
}

func (r *recorder) submissions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.submitted...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestController(t *testing.T, dev Device) (*Controller, *recorder) {
	t.Helper()
	rec := &recorder{}
	c := NewController(context.Background(), dev, rec.submit, rec, testLogger())
	t.Cleanup(c.Close)
	return c, rec
}

func TestControllerStartTwiceFails(t *testing.T) {
	dev := &fakeDevice{}
	c, _ := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyListening) {
		t.Fatalf("expected ErrAlreadyListening, got %v", err)
	}
	if len(dev.captures) != 1 {
		t.Fatalf("expected one open, got %d", len(dev.captures))
	}
}

func TestControllerStopAndSubmitOnlyAfterEnded(t *testing.T) {
	dev := &fakeDevice{}
	c, rec := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capture := dev.last()
	capture.emit(DeviceEvent{Kind: EventResult, Result: transcript.Final("What is your")})
	waitFor(t, "first result", func() bool { return c.Snapshot().Display == "What is your " })

	if err := c.StopAndSubmit(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if capture.stops.Load() != 1 {
		t.Fatalf("expected device stop, got %d", capture.stops.Load())
	}
	if got := rec.submissions(); len(got) != 0 {
		t.Fatalf("submitted before device ended: %v", got)
	}

	// a result that arrives after stop but before ended still counts
	capture.emit(DeviceEvent{Kind: EventResult, Result: transcript.Interim("greatest weakness")})
	capture.end()

	waitFor(t, "submission", func() bool { return len(rec.submissions()) == 1 })
	if got := rec.submissions()[0]; got != "What is your greatest weakness" {
		t.Fatalf("unexpected submission %q", got)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseIdle || snap.AutoSubmitPending {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestControllerPlainStopDoesNotSubmit(t *testing.T) {
	dev := &fakeDevice{}
	c, rec := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capture := dev.last()
	capture.emit(DeviceEvent{Kind: EventResult, Result: transcript.Final("hello there")})
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	capture.end()
	waitFor(t, "idle", func() bool { return c.Snapshot().Phase == PhaseIdle })
	if got := rec.submissions(); len(got) != 0 {
		t.Fatalf("unexpected submission %v", got)
	}
	if c.Snapshot().Status != StatusStopped {
		t.Fatalf("unexpected status %q", c.Snapshot().Status)
	}
}

func TestControllerDeviceErrorCancelsAutoSubmit(t *testing.T) {
	dev := &fakeDevice{}
	c, rec := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capture := dev.last()
	capture.emit(DeviceEvent{Kind: EventResult, Result: transcript.Final("hello")})
	if err := c.StopAndSubmit(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	capture.emit(DeviceEvent{Kind: EventError, Code: CodeNetwork})
	capture.end()

	waitFor(t, "error status", func() bool { return c.Snapshot().ErrorCode == CodeNetwork })
	time.Sleep(20 * time.Millisecond)
	if got := rec.submissions(); len(got) != 0 {
		t.Fatalf("unexpected submission %v", got)
	}
	if c.Snapshot().AutoSubmitPending {
		t.Fatal("auto submit should be cleared")
	}
}

func TestControllerOpenFailure(t *testing.T) {
	dev := &fakeDevice{err: NewDeviceError(CodePermissionDenied, os.ErrPermission)}
	c, rec := newTestController(t, dev)
	err := c.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	var de *apperr.DeviceError
	if !errors.As(err, &de) || de.Code != string(CodePermissionDenied) {
		t.Fatalf("expected permission-denied device error, got %v", err)
	}
	if got := apperr.UserMessage(err); got != StatusFor(CodePermissionDenied, "") {
		t.Fatalf("unexpected user message %q", got)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseIdle || snap.ErrorCode != CodePermissionDenied {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(rec.snapshots) < 2 {
		t.Fatalf("expected starting and failed notifications, got %d", len(rec.snapshots))
	}

	// recovers once the device is available
	dev.mu.Lock()
	dev.err = nil
	dev.mu.Unlock()
	if err := c.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestControllerSkipsStopWhenDeviceInactive(t *testing.T) {
	dev := &fakeDevice{}
	c, _ := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capture := dev.last()
	capture.inactive.Store(true)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if capture.stops.Load() != 0 {
		t.Fatalf("stop should not reach an inactive device")
	}
	capture.end()
	waitFor(t, "idle", func() bool { return c.Snapshot().Phase == PhaseIdle })
}

func TestControllerSynthesizesEndedOnClosedChannel(t *testing.T) {
	dev := &fakeDevice{}
	c, rec := newTestController(t, dev)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	capture := dev.last()
	capture.emit(DeviceEvent{Kind: EventResult, Result: transcript.Final("tell me more")})
	if err := c.StopAndSubmit(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	capture.vanish()
	waitFor(t, "submission", func() bool { return len(rec.submissions()) == 1 })
}

func TestControllerWithMockDevice(t *testing.T) {
	c, rec := newTestController(t, NewMockDevice("Tell me about yourself", 0))
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "interim", func() bool { return c.Snapshot().Display == "Tell me about yourself" })
	if err := c.StopAndSubmit(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitFor(t, "submission", func() bool { return len(rec.submissions()) == 1 })
	if got := rec.submissions()[0]; got != "Tell me about yourself" {
		t.Fatalf("unexpected submission %q", got)
	}
}
