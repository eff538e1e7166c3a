package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/loqalabs/loqa-assist/internal/assistant"
	"github.com/loqalabs/loqa-assist/internal/dictation"
	"github.com/loqalabs/loqa-assist/internal/embedded"
	"github.com/loqalabs/loqa-assist/internal/llm"
	"github.com/loqalabs/loqa-assist/internal/playback"
	"github.com/loqalabs/loqa-assist/internal/remote"
	"github.com/loqalabs/loqa-assist/internal/stt"
)

const mockSpeechPerWord = 60 * time.Millisecond

// buildComponents wires the assistant's collaborators from configuration.
func (r *Runtime) buildComponents(ctx context.Context) (assistant.Components, error) {
	var comps assistant.Components

	switch r.cfg.Backend.Mode {
	case "remote":
		client, err := remote.New(r.cfg.Backend, r.logger)
		if err != nil {
			return comps, fmt.Errorf("remote backend: %w", err)
		}
		comps.Backend = client
		comps.Store = client
	case "embedded":
		gen, err := llm.New(r.cfg.LLM)
		if err != nil {
			return comps, fmt.Errorf("llm: %w", err)
		}
		store, err := embedded.Open(ctx, r.cfg.Store, r.logger)
		if err != nil {
			return comps, fmt.Errorf("session store: %w", err)
		}
		r.store = store
		comps.Backend = embedded.NewBackend(store, gen, r.cfg.LLM, r.logger)
		comps.Store = store
	default:
		return comps, fmt.Errorf("unknown backend mode %q", r.cfg.Backend.Mode)
	}

	switch r.cfg.Dictation.Mode {
	case "mock":
		step := time.Duration(r.cfg.Dictation.PartialEveryMS) * time.Millisecond
		comps.Device = dictation.NewMockDevice(r.cfg.Dictation.MockPhrase, step)
	case "exec":
		recognizer, err := stt.NewExecRecognizer(r.cfg.Dictation)
		if err != nil {
			return comps, fmt.Errorf("recognizer: %w", err)
		}
		device, err := dictation.NewExecDevice(r.cfg.Dictation, recognizer, r.logger)
		if err != nil {
			return comps, fmt.Errorf("capture device: %w", err)
		}
		comps.Device = device
	default:
		return comps, fmt.Errorf("unknown dictation mode %q", r.cfg.Dictation.Mode)
	}

	pb := r.cfg.Playback
	switch pb.Mode {
	case "mock":
		comps.Synth = playback.NewMockSynth(pb.SampleRate, pb.Channels, mockSpeechPerWord)
	case "exec":
		synth, err := playback.NewExecSynth(pb.Command, pb.SampleRate, pb.Channels)
		if err != nil {
			return comps, fmt.Errorf("synthesizer: %w", err)
		}
		comps.Synth = synth
	default:
		return comps, fmt.Errorf("unknown playback mode %q", pb.Mode)
	}

	switch pb.Sink {
	case "", "discard":
		comps.Sink = playback.DiscardSink{}
	case "exec":
		sink, err := playback.NewExecSink(pb.SinkCommand)
		if err != nil {
			return comps, fmt.Errorf("audio sink: %w", err)
		}
		comps.Sink = sink
	case "bus":
		if r.bus == nil {
			return comps, fmt.Errorf("playback sink %q requires the bus to be enabled", pb.Sink)
		}
		comps.Sink = playback.NewBusSink(r.bus)
	default:
		return comps, fmt.Errorf("unknown playback sink %q", pb.Sink)
	}

	comps.Voice = pb.Voice
	comps.Format = playback.Format{SampleRate: pb.SampleRate, Channels: pb.Channels}
	comps.SpeechEnabled = pb.Enabled
	return comps, nil
}
