package stt

import "context"

// Audio is a buffered capture handed to a recognizer.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Final      bool
}

// Result captures recognizer output.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, audio Audio) (Result, error)
}
