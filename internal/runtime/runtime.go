// Package runtime assembles the assistant process: telemetry, the optional
// NATS bus and bridge, the configured backend, and the HTTP health surface.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-assist/internal/assistant"
	"github.com/loqalabs/loqa-assist/internal/bridge"
	"github.com/loqalabs/loqa-assist/internal/bus"
	"github.com/loqalabs/loqa-assist/internal/config"
	"github.com/loqalabs/loqa-assist/internal/embedded"
	"github.com/loqalabs/loqa-assist/internal/natsserver"
)

type Runtime struct {
	cfg      config.Config
	logger   *slog.Logger
	traceOut io.Writer

	httpServer    *http.Server
	httpAddr      string
	metrics       http.Handler
	telemetryStop func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	server    *natsserver.EmbeddedServer
	bus       *bus.Client
	bridge    *bridge.Service
	store     *embedded.Store
	assistant *assistant.Assistant

	closeOnce sync.Once
}

// New creates a runtime. Pretty-printed spans go to traceOut when
// telemetry.trace_stdout is set; nil means os.Stdout.
func New(cfg config.Config, logger *slog.Logger, traceOut io.Writer) *Runtime {
	if traceOut == nil {
		traceOut = os.Stdout
	}
	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		traceOut: traceOut,
	}
}

// Open brings every component up and boots the assistant. On error the
// components started so far are closed.
func (r *Runtime) Open(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			r.Close()
		}
	}()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.traceOut, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = shutdownTelemetry
	r.metrics = metricHandler

	if r.cfg.Bus.Enabled {
		if err := r.openBus(ctx); err != nil {
			return err
		}
	}

	comps, err := r.buildComponents(ctx)
	if err != nil {
		return err
	}
	r.assistant = assistant.New(ctx, comps, r.logger)

	if r.bus != nil {
		r.bridge = bridge.NewService(ctx, r.bus, r.assistant, bridge.Options{
			PersistEvents:  r.cfg.Bus.PersistEvents,
			EventRetention: time.Duration(r.cfg.Bus.EventRetention) * time.Hour,
		}, r.logger)
		if err := r.bridge.Start(); err != nil {
			return fmt.Errorf("failed to start bridge: %w", err)
		}
	}

	if r.cfg.HTTP.Enabled {
		if err := r.serveHTTP(); err != nil {
			return err
		}
	}

	r.assistant.Boot(ctx)
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("backend", r.cfg.Backend.Mode),
		slog.Bool("bus", r.bus != nil),
		slog.String("http", r.httpAddr))
	return nil
}

func (r *Runtime) openBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	server, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.server = server
	if server != nil {
		busCfg.Servers = []string{server.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.bus = client
	return nil
}

func (r *Runtime) serveHTTP() error {
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.httpAddr = listener.Addr().String()
	r.httpServer = &http.Server{
		Handler:           r.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Runtime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /view", r.handleView)
	if r.metrics != nil {
		mux.Handle("/metrics", r.metrics)
	}
	return mux
}

// Start opens the runtime, blocks until ctx is done and then shuts down.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Open(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.Close()
	return nil
}

// Assistant returns the controller once Open has succeeded.
func (r *Runtime) Assistant() *assistant.Assistant {
	return r.assistant
}

// HTTPAddr is the bound health address, empty when HTTP is disabled.
func (r *Runtime) HTTPAddr() string {
	return r.httpAddr
}

// Close stops components in reverse start order. It is safe to call more
// than once.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.ready.Store(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if r.httpServer != nil {
			if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("http shutdown error", slog.String("error", err.Error()))
			}
		}
		r.wg.Wait()

		if r.bridge != nil {
			r.bridge.Close()
		}
		if r.assistant != nil {
			r.assistant.Close()
		}
		if r.store != nil {
			if err := r.store.Close(); err != nil {
				r.logger.Error("session store close error", slog.String("error", err.Error()))
			}
		}
		if r.bus != nil {
			r.bus.Close()
		}
		r.server.Shutdown()

		if r.telemetryStop != nil {
			if err := r.telemetryStop(shutdownCtx); err != nil {
				r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
			}
		}
	})
}

func (r *Runtime) healthy() bool {
	if r.bridge != nil && !r.bridge.Healthy() {
		return false
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !r.healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleView(w http.ResponseWriter, _ *http.Request) {
	if r.assistant == nil || !r.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.assistant.View()); err != nil {
		r.logger.Warn("failed to encode view", slog.String("error", err.Error()))
	}
}
