// Package playback reads answers aloud, one utterance at a time.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const utteranceTimeout = 2 * time.Minute

// Status is what the UI shows about speech.
type Status struct {
	Enabled  bool
	Speaking bool
}

// Observer is told when the switch flips or an utterance starts or ends.
type Observer interface {
	SpeechChanged(Status)
}

type utterance struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller serializes utterances. A new Speak cancels the previous
// utterance and waits for it to release the sink before opening it again.
type Controller struct {
	synth    Synthesizer
	sink     Sink
	voice    string
	format   Format
	observer Observer
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	enabled atomic.Bool

	mu      sync.Mutex
	current *utterance

	utterances    metric.Int64Counter
	cancellations metric.Int64Counter
	failures      metric.Int64Counter
}

func NewController(parent context.Context, synth Synthesizer, sink Sink, voice string, format Format, enabled bool, observer Observer, logger *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		synth:    synth,
		sink:     sink,
		voice:    voice,
		format:   format,
		observer: observer,
		logger:   logger.With(slog.String("component", "playback")),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.enabled.Store(enabled)
	if err := c.initMetrics(); err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return c
}

// Speak cancels any in-flight utterance and, when speech is enabled, reads
// text aloud. It returns without waiting for audio.
func (c *Controller) Speak(text string) {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	if prev != nil {
		prev.cancel()
		c.count(c.cancellations)
	}
	if !c.enabled.Load() || strings.TrimSpace(text) == "" || c.ctx.Err() != nil {
		c.mu.Unlock()
		if prev != nil {
			c.notify()
		}
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, utteranceTimeout)
	u := &utterance{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	c.current = u
	c.wg.Add(1)
	c.mu.Unlock()

	c.notify()
	go c.play(ctx, u, prev, text)
}

// Toggle flips the speech switch and returns the new value. An utterance
// already playing is left alone.
func (c *Controller) Toggle() bool {
	for {
		old := c.enabled.Load()
		if c.enabled.CompareAndSwap(old, !old) {
			c.logger.Info("speech toggled", slog.Bool("enabled", !old))
			c.notify()
			return !old
		}
	}
}

// Enabled reports the speech switch.
func (c *Controller) Enabled() bool {
	return c.enabled.Load()
}

// Speaking reports whether an utterance is in flight.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Controller) Status() Status {
	return Status{Enabled: c.Enabled(), Speaking: c.Speaking()}
}

// Stop silences the current utterance, if any.
func (c *Controller) Stop() {
	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
		c.count(c.cancellations)
		c.notify()
	}
}

// Close cancels playback and waits for the sink to be released.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Controller) play(ctx context.Context, u *utterance, prev *utterance, text string) {
	defer c.wg.Done()
	defer close(u.done)
	defer c.finish(u)
	defer u.cancel()

	if prev != nil {
		<-prev.done
	}
	if ctx.Err() != nil {
		return
	}

	logger := c.logger.With(slog.String("utterance", u.id))
	stream, err := c.sink.Open(ctx, u.id, c.format)
	if err != nil {
		c.count(c.failures)
		logger.Warn("failed to open playback sink", slogError(err))
		return
	}
	c.count(c.utterances)

	chunks, errs := c.synth.Synthesize(ctx, SynthRequest{UtteranceID: u.id, Text: text, Voice: c.voice})
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := stream.Write(chunk); err != nil && ctx.Err() == nil {
				logger.Warn("playback sink write failed", slogError(err))
				u.cancel()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				c.count(c.failures)
				logger.Warn("speech synthesis failed", slogError(err))
			}
		}
	}
	if err := stream.Close(); err != nil && ctx.Err() == nil {
		logger.Warn("playback sink close failed", slogError(err))
	}
}

func (c *Controller) finish(u *utterance) {
	c.mu.Lock()
	mine := c.current == u
	if mine {
		c.current = nil
	}
	c.mu.Unlock()
	if mine {
		c.notify()
	}
}

func (c *Controller) notify() {
	if c.observer != nil {
		c.observer.SpeechChanged(c.Status())
	}
}

func (c *Controller) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assist/playback")
	var err error
	if c.utterances, err = meter.Int64Counter("assist.playback.utterances", metric.WithDescription("Utterances sent to the sink")); err != nil {
		return err
	}
	if c.cancellations, err = meter.Int64Counter("assist.playback.cancellations", metric.WithDescription("Utterances cut short by a newer one")); err != nil {
		return err
	}
	c.failures, err = meter.Int64Counter("assist.playback.failures", metric.WithDescription("Synthesis or sink failures"))
	return err
}

func (c *Controller) count(counter metric.Int64Counter) {
	if counter == nil {
		return
	}
	counter.Add(c.ctx, 1)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
