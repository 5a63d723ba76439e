package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papercast-labs/papercast-core/internal/assemble"
	"github.com/papercast-labs/papercast-core/internal/bus"
	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/extract"
	"github.com/papercast-labs/papercast-core/internal/fetch"
	"github.com/papercast-labs/papercast-core/internal/llm"
	"github.com/papercast-labs/papercast-core/internal/pipeline"
	"github.com/papercast-labs/papercast-core/internal/store"
	"github.com/papercast-labs/papercast-core/internal/synth"
	"github.com/papercast-labs/papercast-core/internal/transcript"
	"github.com/papercast-labs/papercast-core/internal/voice"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// components holds everything a sweep needs, built once per process.
type components struct {
	store    *store.Store
	events   *bus.Client
	pipeline *pipeline.Pipeline
	fetcher  *fetch.Fetcher
}

func (r *Runtime) build(ctx context.Context) (*components, error) {
	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}

	var events *bus.Client
	if r.cfg.Bus.Enabled {
		events, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect message bus: %w", err)
		}
	}

	backend, err := llm.New(r.cfg.Generator)
	if err != nil {
		events.Close()
		st.Close()
		return nil, fmt.Errorf("build language model backend: %w", err)
	}
	generator := transcript.NewGenerator(backend, r.cfg.Generator, r.logger)

	engine, err := synth.NewEngine(r.cfg.Synthesis)
	if err != nil {
		events.Close()
		st.Close()
		return nil, fmt.Errorf("build speech engine: %w", err)
	}
	registry, err := voice.NewRegistry(r.cfg.Synthesis.Voices)
	if err != nil {
		events.Close()
		st.Close()
		return nil, fmt.Errorf("build voice registry: %w", err)
	}
	synthesizer := synth.NewSynthesizer(engine, registry, r.cfg.Synthesis, r.logger)

	assembler, err := assemble.New(generator, st, synthesizer, r.cfg.Synthesis, r.cfg.Workspace.OutputDir, events, r.logger)
	if err != nil {
		events.Close()
		st.Close()
		return nil, fmt.Errorf("build assembler: %w", err)
	}

	extractor := extract.New(r.cfg.Extract, backend, r.logger)
	pipe := pipeline.New(r.cfg.Workspace, extractor, assembler, st, r.logger)
	if err := pipe.EnsureWorkspace(); err != nil {
		events.Close()
		st.Close()
		return nil, err
	}

	var fetcher *fetch.Fetcher
	if r.cfg.Fetch.Enabled {
		fetcher = fetch.New(r.cfg.Fetch, backend, r.logger)
	}

	return &components{store: st, events: events, pipeline: pipe, fetcher: fetcher}, nil
}

// RunOnce builds the pipeline, performs a single workspace sweep, and
// tears everything down.
func (r *Runtime) RunOnce(ctx context.Context) error {
	shutdownTelemetry, _, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	comps, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer comps.store.Close()
	defer comps.events.Close()

	return comps.pipeline.Sweep(ctx)
}

// FetchTopic downloads papers on the topic into the input directory so the
// next sweep picks them up. Fetching must be enabled in configuration.
func (r *Runtime) FetchTopic(ctx context.Context, topic string) error {
	if !r.cfg.Fetch.Enabled {
		return fmt.Errorf("paper fetching is disabled in configuration")
	}
	comps, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer comps.store.Close()
	defer comps.events.Close()

	paths, err := comps.fetcher.FetchTopic(ctx, topic, r.cfg.Workspace.InputDir)
	if err != nil {
		return err
	}
	r.logger.Info("papers fetched", slog.String("topic", topic), slog.Int("count", len(paths)))
	return nil
}

// Start runs the daemon: health endpoints, metrics, and a periodic workspace
// sweep until the context is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	comps, err := r.build(ctx)
	if err != nil {
		return err
	}
	defer comps.store.Close()
	defer comps.events.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.Pipeline.Enabled {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.sweepLoop(ctx, comps.pipeline)
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) sweepLoop(ctx context.Context, pipe *pipeline.Pipeline) {
	interval := time.Duration(r.cfg.Pipeline.SweepIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := pipe.Sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("workspace sweep failed", slog.String("error", err.Error()))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pipe.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("workspace sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
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
