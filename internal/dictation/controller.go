// Package dictation drives a speech capture device through dictation episodes.
package dictation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Controller serializes user commands and device events through Reduce.
type Controller struct {
	device   Device
	submit   SubmitFunc
	observer Observer
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	state   State
	capture Capture

	episodes     metric.Int64Counter
	deviceErrors metric.Int64Counter
	submissions  metric.Int64Counter
}

func NewController(parent context.Context, device Device, submit SubmitFunc, observer Observer, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		device:   device,
		submit:   submit,
		observer: observer,
		logger:   logger.With(slog.String("component", "dictation")),
		ctx:      ctx,
		cancel:   cancel,
		state:    Initial(),
	}
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

// Start opens a new capture episode.
func (c *Controller) Start() error {
	c.mu.Lock()
	episode := c.state.Episode + 1
	next, eff := Reduce(c.state, StartRequested{Episode: episode})
	if eff.Err != nil {
		c.mu.Unlock()
		return eff.Err
	}
	c.state = next
	c.mu.Unlock()
	c.notify(next.Snapshot())

	epCtx, cancel := context.WithCancel(c.ctx)
	capture, err := c.device.Open(epCtx)
	if err != nil {
		cancel()
		code, detail := classify(err)
		c.apply(OpenFailed{Episode: episode, Code: code, Detail: detail})
		c.count(c.deviceErrors, attribute.String("code", string(code)))
		c.logger.Warn("capture device unavailable", slog.String("code", string(code)), slogError(err))
		return deviceError(code, detail, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err))
	}

	c.mu.Lock()
	next, eff = Reduce(c.state, DeviceOpened{Episode: episode})
	if eff.Stale {
		c.mu.Unlock()
		cancel()
		_ = capture.Stop()
		return ErrNotListening
	}
	c.state = next
	c.capture = capture
	c.mu.Unlock()
	c.notify(next.Snapshot())
	c.count(c.episodes)
	c.logger.Info("dictation started", slog.Uint64("episode", episode))

	c.wg.Add(1)
	go c.pump(episode, capture, cancel)
	return nil
}

// Stop requests device termination. The controller reaches idle when the
// device confirms.
func (c *Controller) Stop() error {
	return c.stop(false)
}

// StopAndSubmit stops dictation and submits the transcript once the device
// has confirmed termination.
func (c *Controller) StopAndSubmit() error {
	return c.stop(true)
}

func (c *Controller) stop(submit bool) error {
	c.mu.Lock()
	next, eff := Reduce(c.state, StopRequested{Submit: submit})
	if eff.Err != nil {
		c.mu.Unlock()
		return eff.Err
	}
	c.state = next
	capture := c.capture
	episode := next.Episode
	c.mu.Unlock()
	c.notify(next.Snapshot())

	if capture == nil || capture.State() == CaptureInactive {
		return nil
	}
	if err := capture.Stop(); err != nil {
		c.handle(episode, DeviceEvent{Kind: EventError, Code: CodeCaptureFailed, Detail: err.Error()})
		return deviceError(CodeCaptureFailed, err.Error(), err)
	}
	return nil
}

// Snapshot returns the current dictation view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Close stops any capture and waits for pending submissions to return.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture != nil {
		_ = capture.Stop()
	}
	c.wg.Wait()
}

func (c *Controller) pump(episode uint64, capture Capture, cancel context.CancelFunc) {
	defer c.wg.Done()
	defer cancel()

	ended := false
	for ev := range capture.Events() {
		if ev.Kind == EventEnded {
			ended = true
		}
		c.handle(episode, ev)
	}
	if !ended {
		c.handle(episode, DeviceEvent{Kind: EventEnded})
	}
}

func (c *Controller) handle(episode uint64, ev DeviceEvent) {
	c.mu.Lock()
	prev := c.state
	next, eff := Reduce(prev, DeviceSignal{Episode: episode, Event: ev})
	c.state = next
	capture := c.capture
	if next.Phase == PhaseIdle && !eff.Stale {
		c.capture = nil
	}
	c.mu.Unlock()

	if eff.Stale {
		c.logger.Debug("discarded event from finished episode", slog.Uint64("episode", episode), slog.String("kind", string(ev.Kind)))
		return
	}
	if ev.Kind == EventError && prev.Phase != PhaseIdle {
		c.count(c.deviceErrors, attribute.String("code", string(next.ErrorCode)))
		c.logger.Warn("capture device error", slog.String("code", string(next.ErrorCode)), slog.String("detail", ev.Detail))
	}
	if eff.StopDevice && capture != nil && capture.State() != CaptureInactive {
		_ = capture.Stop()
	}
	if next != prev {
		c.notify(next.Snapshot())
	}
	if eff.Submit != "" && c.submit != nil {
		c.count(c.submissions)
		c.submit(c.ctx, eff.Submit)
	}
}

func (c *Controller) apply(ev Event) {
	c.mu.Lock()
	next, _ := Reduce(c.state, ev)
	changed := next != c.state
	c.state = next
	c.mu.Unlock()
	if changed {
		c.notify(next.Snapshot())
	}
}

func (c *Controller) notify(s Snapshot) {
	if c.observer != nil {
		c.observer.DictationChanged(s)
	}
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assist/dictation")
	var err error
	if c.episodes, err = meter.Int64Counter("assist.dictation.episodes", metric.WithDescription("Capture episodes opened")); err != nil {
		return err
	}
	if c.deviceErrors, err = meter.Int64Counter("assist.dictation.device_errors", metric.WithDescription("Capture device failures by code")); err != nil {
		return err
	}
	c.submissions, err = meter.Int64Counter("assist.dictation.auto_submissions", metric.WithDescription("Questions submitted after stop-and-ask"))
	return err
}

func (c *Controller) count(counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(c.ctx, 1, metric.WithAttributes(attrs...))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
