package stt

import (
	"context"
	"strings"
)

type mockRecognizer struct {
	words []string
}

// NewMockRecognizer reveals phrase progressively: the more audio it is given,
// the more words it "recognizes".
func NewMockRecognizer(phrase string) Recognizer {
	return &mockRecognizer{words: strings.Fields(phrase)}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, audio Audio) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if audio.Final || len(m.words) == 0 {
		return Result{Text: strings.Join(m.words, " "), Confidence: 1}, nil
	}
	// one word per 100ms of 16-bit audio
	perWord := audio.SampleRate * audio.Channels * 2 / 10
	n := len(m.words)
	if perWord > 0 {
		n = len(audio.PCM)/perWord + 1
	}
	if n > len(m.words) {
		n = len(m.words)
	}
	return Result{Text: strings.Join(m.words[:n], " "), Confidence: 0.5}, nil
}
