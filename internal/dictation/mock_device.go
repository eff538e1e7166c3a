package dictation

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-assist/internal/transcript"
)

type mockDevice struct {
	phrase string
	step   time.Duration
}

// NewMockDevice returns a device that "hears" phrase one word per step and
// finalizes what it heard when stopped.
func NewMockDevice(phrase string, step time.Duration) Device {
	return &mockDevice{phrase: phrase, step: step}
}

func (d *mockDevice) Open(ctx context.Context) (Capture, error) {
	c := &mockCapture{
		events: make(chan DeviceEvent, 8),
		stop:   make(chan struct{}),
	}
	c.active.Store(true)
	go c.run(ctx, strings.Fields(d.phrase), d.step)
	return c, nil
}

type mockCapture struct {
	events   chan DeviceEvent
	stop     chan struct{}
	stopOnce sync.Once
	active   atomic.Bool
}

func (c *mockCapture) Events() <-chan DeviceEvent { return c.events }

func (c *mockCapture) Stop() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *mockCapture) State() CaptureState {
	if c.active.Load() {
		return CaptureActive
	}
	return CaptureInactive
}

func (c *mockCapture) run(ctx context.Context, words []string, step time.Duration) {
	defer close(c.events)
	defer c.active.Store(false)

	c.events <- DeviceEvent{Kind: EventStarted}
	heard := 0
	if step <= 0 {
		heard = len(words)
		c.events <- DeviceEvent{Kind: EventResult, Result: transcript.Interim(strings.Join(words, " "))}
	}

	ticker := time.NewTicker(maxDuration(step, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.events <- DeviceEvent{Kind: EventEnded}
			return
		case <-c.stop:
			if heard > 0 {
				c.events <- DeviceEvent{Kind: EventResult, Result: transcript.Final(strings.Join(words[:heard], " "))}
			}
			c.events <- DeviceEvent{Kind: EventEnded}
			return
		case <-ticker.C:
			if heard < len(words) {
				heard++
				c.events <- DeviceEvent{Kind: EventResult, Result: transcript.Interim(strings.Join(words[:heard], " "))}
			}
		}
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
