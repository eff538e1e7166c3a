// Package bridge exposes the assistant on NATS: command subjects answered
// with request/reply and every hub event republished on an event subject.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-assist/internal/apperr"
	"github.com/loqalabs/loqa-assist/internal/assistant"
	"github.com/loqalabs/loqa-assist/internal/bus"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EventStream is the JetStream stream that keeps published events.
const EventStream = "ASSIST_EVENTS"

// Options tunes the bridge.
type Options struct {
	PersistEvents  bool
	EventRetention time.Duration
}

type Service struct {
	bus       *bus.Client
	assistant *assistant.Assistant
	opts      Options
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu          sync.Mutex
	subs        []*nats.Subscription
	unsubscribe func()

	commands metric.Int64Counter
	failures metric.Int64Counter
}

func NewService(parent context.Context, busClient *bus.Client, a *assistant.Assistant, opts Options, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		bus:       busClient,
		assistant: a,
		opts:      opts,
		logger:    logger.With(slog.String("component", "bridge")),
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

// Start subscribes to every command subject and begins forwarding events.
func (s *Service) Start() error {
	prefix := s.bus.Prefix()
	if s.opts.PersistEvents {
		if err := s.bus.EnsureStream(EventStream, []string{protocol.EventWildcard(prefix)}, s.opts.EventRetention); err != nil {
			s.logger.Warn("event persistence unavailable", slogError(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range protocol.Commands {
		sub, err := s.bus.Conn().Subscribe(protocol.CommandSubject(prefix, name), s.handler(name))
		if err != nil {
			s.drainLocked()
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		s.subs = append(s.subs, sub)
	}

	events, unsubscribe := s.assistant.Hub().Subscribe(256)
	s.unsubscribe = unsubscribe
	s.wg.Add(1)
	go s.forward(prefix, events)

	s.logger.Info("bridge started", slog.String("prefix", prefix), slog.Int("commands", len(protocol.Commands)))
	return nil
}

// Close drains subscriptions and waits for in-flight commands.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	s.drainLocked()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus.Healthy() && len(s.subs) == len(protocol.Commands)
}

func (s *Service) drainLocked() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) forward(prefix string, events <-chan protocol.Event) {
	defer s.wg.Done()
	for ev := range events {
		if err := s.bus.PublishJSON(protocol.EventSubject(prefix, ev.Kind), ev); err != nil {
			s.logger.Warn("failed to publish event", slog.String("kind", string(ev.Kind)), slogError(err))
		}
	}
}

func (s *Service) handler(name string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req protocol.CommandRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.logger.Warn("bridge failed to decode command", slog.String("command", name), slogError(err))
				s.respond(msg, name, protocol.CommandReply{Message: "Malformed command"})
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			reply := s.execute(s.ctx, name, req)
			reply.RequestID = req.RequestID
			s.respond(msg, name, reply)
		}()
	}
}

func (s *Service) respond(msg *nats.Msg, name string, reply protocol.CommandReply) {
	if s.commands != nil {
		s.commands.Add(s.ctx, 1, metric.WithAttributes(attribute.String("command", name), attribute.Bool("ok", reply.OK)))
	}
	if !reply.OK && s.failures != nil {
		s.failures.Add(s.ctx, 1, metric.WithAttributes(attribute.String("command", name)))
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("bridge failed to encode reply", slog.String("command", name), slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("bridge failed to reply", slog.String("command", name), slogError(err))
	}
}

func (s *Service) execute(ctx context.Context, name string, req protocol.CommandRequest) protocol.CommandReply {
	a := s.assistant
	switch name {
	case protocol.CmdAsk:
		ans, err := a.Ask(ctx, req.Text)
		if err != nil {
			return failed(err)
		}
		return protocol.CommandReply{OK: true, Answer: &protocol.Answer{
			Question:  ans.Question,
			Answer:    ans.Answer,
			Timestamp: float64(ans.Timestamp.UnixNano()) / 1e9,
			SessionID: ans.SessionID,
		}}
	case protocol.CmdDictationStart:
		return result(a.StartDictation())
	case protocol.CmdDictationStop:
		return result(a.StopDictation())
	case protocol.CmdDictationStopAsk:
		return result(a.StopAndAsk())
	case protocol.CmdSpeechToggle:
		enabled := a.ToggleSpeech()
		return protocol.CommandReply{OK: true, Enabled: &enabled}
	case protocol.CmdInteractionsClear:
		a.ClearInteractions()
		return protocol.CommandReply{OK: true}
	case protocol.CmdSessionCreate:
		created, err := a.CreateSession(ctx, req.Title)
		if err != nil {
			return failed(err)
		}
		m := assistant.SessionMessage(created)
		return protocol.CommandReply{OK: true, Session: &m}
	case protocol.CmdSessionActivate:
		activated, err := a.ActivateSession(ctx, req.SessionID)
		if err != nil {
			return failed(err)
		}
		m := assistant.SessionMessage(activated)
		return protocol.CommandReply{OK: true, Session: &m}
	case protocol.CmdSessionRename:
		renamed, err := a.RenameSession(ctx, req.SessionID, req.Title)
		if err != nil {
			return failed(err)
		}
		m := assistant.SessionMessage(renamed)
		return protocol.CommandReply{OK: true, Session: &m}
	case protocol.CmdSessionDelete:
		return result(a.DeleteSession(ctx, req.SessionID))
	case protocol.CmdSessionRefresh:
		return result(a.RefreshSessions(ctx))
	case protocol.CmdView:
		view := a.View()
		return protocol.CommandReply{OK: true, View: &view}
	default:
		return protocol.CommandReply{Message: "Unknown command " + name}
	}
}

func result(err error) protocol.CommandReply {
	if err != nil {
		return failed(err)
	}
	return protocol.CommandReply{OK: true}
}

func failed(err error) protocol.CommandReply {
	return protocol.CommandReply{Message: apperr.UserMessage(err)}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-assist/bridge")
	var err error
	if s.commands, err = meter.Int64Counter("assist.bridge.commands"); err != nil {
		return err
	}
	if s.failures, err = meter.Int64Counter("assist.bridge.command_failures"); err != nil {
		return err
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
