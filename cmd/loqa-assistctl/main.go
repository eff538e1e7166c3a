package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-assist/internal/bridge"
	"github.com/loqalabs/loqa-assist/internal/bus"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-assistctl [-config file] [-timeout d] <command> [args]

commands:
  ask <question>               ask a question
  dictate start|stop|ask       control dictation
  speech                       toggle spoken answers
  clear                        clear the interaction list
  session list                 list sessions
  session create <title>       create and activate a session
  session activate <id>        load a session
  session rename <id> <title>  rename a session
  session delete <id>          delete a session
  view                         print the full state
  watch [-history]             stream events
  version                      print the version`

func main() {
	var (
		configPath string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file; built-in defaults when empty")
	flag.DurationVar(&timeout, "timeout", 90*time.Second, "Command reply timeout")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := bus.Connect(ctx, cfg.Bus, "loqa-assistctl", logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	c := &ctl{client: client, timeout: timeout, out: os.Stdout}
	if err := c.run(ctx, args); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

type ctl struct {
	client  *bus.Client
	timeout time.Duration
	out     io.Writer
}

func (c *ctl) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "ask":
		question := strings.Join(args[1:], " ")
		reply, err := c.call(ctx, protocol.CmdAsk, protocol.CommandRequest{Text: question})
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, reply.Answer.Answer)
		return nil
	case "dictate":
		if len(args) < 2 {
			return usageError("dictate needs start, stop or ask")
		}
		names := map[string]string{
			"start": protocol.CmdDictationStart,
			"stop":  protocol.CmdDictationStop,
			"ask":   protocol.CmdDictationStopAsk,
		}
		name, ok := names[args[1]]
		if !ok {
			return usageError(fmt.Sprintf("unknown dictate action %q", args[1]))
		}
		_, err := c.call(ctx, name, protocol.CommandRequest{})
		return err
	case "speech":
		reply, err := c.call(ctx, protocol.CmdSpeechToggle, protocol.CommandRequest{})
		if err != nil {
			return err
		}
		if reply.Enabled != nil && *reply.Enabled {
			fmt.Fprintln(c.out, "speech on")
		} else {
			fmt.Fprintln(c.out, "speech off")
		}
		return nil
	case "clear":
		_, err := c.call(ctx, protocol.CmdInteractionsClear, protocol.CommandRequest{})
		return err
	case "session":
		return c.session(ctx, args[1:])
	case "view":
		reply, err := c.call(ctx, protocol.CmdView, protocol.CommandRequest{})
		if err != nil {
			return err
		}
		return printJSON(c.out, reply.View)
	case "watch":
		fs := flag.NewFlagSet("watch", flag.ContinueOnError)
		history := fs.Bool("history", false, "Replay retained events first")
		if err := fs.Parse(args[1:]); err != nil {
			return usageError(err.Error())
		}
		return c.watch(ctx, *history)
	default:
		return usageError(fmt.Sprintf("unknown command %q", args[0]))
	}
}

func (c *ctl) session(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("session needs an action")
	}
	var (
		name string
		req  protocol.CommandRequest
		err  error
	)
	switch args[0] {
	case "list":
		if _, err := c.call(ctx, protocol.CmdSessionRefresh, protocol.CommandRequest{}); err != nil {
			return err
		}
		reply, err := c.call(ctx, protocol.CmdView, protocol.CommandRequest{})
		if err != nil {
			return err
		}
		for _, s := range reply.View.Sessions {
			mark := " "
			if s.IsActive {
				mark = "*"
			}
			fmt.Fprintf(c.out, "%s %4d  %-40s %3d  %s\n", mark, s.ID, s.Title, s.InteractionCount, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return nil
	case "create":
		name = protocol.CmdSessionCreate
		req.Title = strings.Join(args[1:], " ")
	case "activate", "delete":
		name = protocol.CmdSessionActivate
		if args[0] == "delete" {
			name = protocol.CmdSessionDelete
		}
		if len(args) < 2 {
			return usageError("session " + args[0] + " needs an id")
		}
		if req.SessionID, err = parseID(args[1]); err != nil {
			return err
		}
	case "rename":
		name = protocol.CmdSessionRename
		if len(args) < 3 {
			return usageError("session rename needs an id and a title")
		}
		if req.SessionID, err = parseID(args[1]); err != nil {
			return err
		}
		req.Title = strings.Join(args[2:], " ")
	default:
		return usageError(fmt.Sprintf("unknown session action %q", args[0]))
	}

	reply, err := c.call(ctx, name, req)
	if err != nil {
		return err
	}
	if reply.Session != nil {
		fmt.Fprintf(c.out, "%d  %s\n", reply.Session.ID, reply.Session.Title)
	}
	return nil
}

func parseID(s string) (int64, error) {
	var id int64
	if _, err := fmt.Sscan(s, &id); err != nil || id <= 0 {
		return 0, usageError(fmt.Sprintf("invalid session id %q", s))
	}
	return id, nil
}

// call sends one command and turns a failed reply into an error carrying
// the user-facing message.
func (c *ctl) call(ctx context.Context, name string, req protocol.CommandRequest) (protocol.CommandReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req.RequestID = uuid.NewString()
	var reply protocol.CommandReply
	if err := c.client.RequestJSON(ctx, protocol.CommandSubject(c.client.Prefix(), name), req, &reply); err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return reply, errors.New("no assistant is listening on the bus")
		}
		return reply, fmt.Errorf("%s: %w", name, err)
	}
	if !reply.OK {
		return reply, errors.New(reply.Message)
	}
	return reply, nil
}

func (c *ctl) watch(ctx context.Context, history bool) error {
	events := make(chan *nats.Msg, 256)
	var (
		sub *nats.Subscription
		err error
	)
	subject := protocol.EventWildcard(c.client.Prefix())
	if history {
		sub, err = c.client.JetStream().ChanSubscribe(subject, events, nats.BindStream(bridge.EventStream), nats.DeliverAll(), nats.AckNone())
	} else {
		sub, err = c.client.Conn().ChanSubscribe(subject, events)
	}
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-events:
			var ev protocol.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			fmt.Fprintln(c.out, describe(ev))
		}
	}
}

func describe(ev protocol.Event) string {
	stamp := ev.Timestamp.Local().Format(time.TimeOnly)
	switch ev.Kind {
	case protocol.KindDictation:
		if d := ev.Dictation; d != nil {
			if d.Display != "" {
				return fmt.Sprintf("%s dictation %s: %s | %s", stamp, d.Phase, d.Status, d.Display)
			}
			return fmt.Sprintf("%s dictation %s: %s", stamp, d.Phase, d.Status)
		}
	case protocol.KindInteraction:
		if it := ev.Interaction; it != nil {
			return fmt.Sprintf("%s Q: %s\n%s A: %s", stamp, it.Question, strings.Repeat(" ", len(stamp)), it.Answer)
		}
	case protocol.KindInteractions:
		return fmt.Sprintf("%s interactions reloaded (%d)", stamp, len(ev.Interactions))
	case protocol.KindSessionCurrent:
		if ev.Session == nil {
			return stamp + " no current session"
		}
		return fmt.Sprintf("%s current session %d: %s", stamp, ev.Session.ID, ev.Session.Title)
	case protocol.KindSessionList:
		return fmt.Sprintf("%s sessions (%d)", stamp, len(ev.Sessions))
	case protocol.KindNotice:
		if n := ev.Notice; n != nil {
			return fmt.Sprintf("%s [%s] %s", stamp, n.Level, n.Message)
		}
	case protocol.KindResync:
		return fmt.Sprintf("%s missed %d events; run view to reload", stamp, ev.Dropped)
	case protocol.KindSpeech:
		if s := ev.Speech; s != nil {
			return fmt.Sprintf("%s speech enabled=%t speaking=%t", stamp, s.Enabled, s.Speaking)
		}
	}
	return fmt.Sprintf("%s %s", stamp, ev.Kind)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
