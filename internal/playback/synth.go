package playback

import (
	"context"
	"strings"
	"time"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	UtteranceID string
	Text        string
	Voice       string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer produces audio for one utterance. Both channels are closed when
// synthesis finishes or ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

type mockSynth struct {
	sampleRate int
	channels   int
	perWord    time.Duration
}

// NewMockSynth emits silence, one chunk per word of text.
func NewMockSynth(sampleRate, channels int, perWord time.Duration) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, perWord: perWord}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		words := len(strings.Fields(req.Text))
		if words == 0 {
			words = 1
		}
		samples := int(int64(m.sampleRate) * int64(m.perWord) / int64(time.Second))
		for i := 0; i < words; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(m.perWord):
			}
			chunk := SynthChunk{
				Sequence:   i,
				SampleRate: m.sampleRate,
				Channels:   m.channels,
				PCM:        make([]byte, samples*m.channels*2),
				Final:      i == words-1,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
