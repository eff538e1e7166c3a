package playback

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/loqalabs/loqa-assist/internal/bus"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/mattn/go-shellwords"
)

// Format describes the PCM an utterance will carry.
type Format struct {
	SampleRate int
	Channels   int
}

// Sink is the audible end of playback. Open is called once per utterance and
// the stream is closed before the next utterance opens.
type Sink interface {
	Open(ctx context.Context, utteranceID string, format Format) (Stream, error)
}

// Stream receives the chunks of one utterance.
type Stream interface {
	Write(chunk SynthChunk) error
	Close() error
}

// DiscardSink drops audio. It is the default when no player is configured.
type DiscardSink struct{}

func (DiscardSink) Open(context.Context, string, Format) (Stream, error) { return discardStream{}, nil }

type discardStream struct{}

func (discardStream) Write(SynthChunk) error { return nil }
func (discardStream) Close() error           { return nil }

type execSink struct {
	args []string
}

// NewExecSink pipes raw s16le PCM into command's stdin, one process per
// utterance. {rate} and {channels} in the command are replaced by the format.
func NewExecSink(command string) (Sink, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse sink command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("sink command empty")
	}
	return &execSink{args: args}, nil
}

func (s *execSink) Open(ctx context.Context, _ string, format Format) (Stream, error) {
	args := make([]string, len(s.args))
	for i, a := range s.args {
		switch a {
		case "{rate}":
			a = strconv.Itoa(format.SampleRate)
		case "{channels}":
			a = strconv.Itoa(format.Channels)
		}
		args[i] = a
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}
	return &execStream{cmd: cmd, stdin: stdin}, nil
}

type execStream struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (s *execStream) Write(chunk SynthChunk) error {
	_, err := s.stdin.Write(chunk.PCM)
	return err
}

// Close waits for the player to drain its input. A cancelled context kills
// the process instead.
func (s *execStream) Close() error {
	_ = s.stdin.Close()
	return s.cmd.Wait()
}

type busSink struct {
	client  *bus.Client
	subject string
}

// NewBusSink publishes each chunk as a protocol.AudioChunk so a remote
// player can render it.
func NewBusSink(client *bus.Client) Sink {
	return &busSink{client: client, subject: protocol.AudioSubject(client.Prefix())}
}

func (s *busSink) Open(_ context.Context, utteranceID string, _ Format) (Stream, error) {
	return &busStream{sink: s, id: utteranceID}, nil
}

type busStream struct {
	sink  *busSink
	id    string
	final bool
	next  int
}

func (s *busStream) Write(chunk SynthChunk) error {
	s.final = chunk.Final
	err := s.sink.client.PublishJSON(s.sink.subject, protocol.AudioChunk{
		UtteranceID: s.id,
		Sequence:    s.next,
		SampleRate:  chunk.SampleRate,
		Channels:    chunk.Channels,
		PCM:         chunk.PCM,
		Final:       chunk.Final,
	})
	s.next++
	return err
}

// Close marks the end of the utterance when the synthesizer did not.
func (s *busStream) Close() error {
	if s.final {
		return nil
	}
	return s.sink.client.PublishJSON(s.sink.subject, protocol.AudioChunk{UtteranceID: s.id, Sequence: s.next, Final: true})
}
