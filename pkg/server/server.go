// Package server exposes rendered envelopes over HTTP for Prometheus to
// scrape.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/SeanFellowes/TelemetryCore/pkg/codec"
	"github.com/SeanFellowes/TelemetryCore/pkg/collector"
	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
	"github.com/SeanFellowes/TelemetryCore/pkg/exposition"
)

// Routes served by the handler.
const (
	HealthPath      = "/healthz"
	MetricsPath     = "/metrics"
	EnvelopePath    = "/envelope"
	SelfMetricsPath = "/metrics/self"
)

const (
	cborContentType = "application/cbor"
	jsonContentType = "application/json"
	shutdownTimeout = 10 * time.Second
)

// EnvelopeSource supplies envelopes produced outside this process.
type EnvelopeSource interface {
	Snapshot() []envelope.Envelope
}

// Config wires the server's collaborators.
type Config struct {
	// Collector produces the host's own envelope. Required.
	Collector *collector.Collector
	// Sources are rendered after the host envelope, in order.
	Sources []EnvelopeSource
	// Renderer defaults to a canonical renderer on the system clock.
	Renderer *exposition.Renderer
	// Metrics defaults to a fresh registry.
	Metrics *Metrics
	Logger  *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server serves the exposition endpoints.
type Server struct {
	collector *collector.Collector
	sources   []EnvelopeSource
	renderer  *exposition.Renderer
	metrics   *Metrics
	logger    *slog.Logger
	handler   http.Handler

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

// New builds a server from cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Collector == nil {
		return nil, errors.New("server: collector is required")
	}

	s := &Server{
		collector:    cfg.Collector,
		sources:      cfg.Sources,
		renderer:     cfg.Renderer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		idleTimeout:  cfg.IdleTimeout,
	}
	if s.renderer == nil {
		s.renderer = exposition.NewRenderer()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	mux.HandleFunc("GET "+MetricsPath, s.handleMetrics)
	mux.HandleFunc("GET "+EnvelopePath, s.handleEnvelope)
	mux.Handle("GET "+SelfMetricsPath, s.metrics.Handler())

	s.handler = s.metrics.Middleware(otelhttp.NewHandler(mux, "telemetrycore",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + routeName(r.URL.Path)
		}),
	))
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the server's self metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Envelopes gathers the host envelope followed by every source's snapshot.
func (s *Server) Envelopes() []envelope.Envelope {
	envs := []envelope.Envelope{s.collector.Collect()}
	for _, src := range s.sources {
		envs = append(envs, src.Snapshot()...)
	}
	return envs
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	envs := s.Envelopes()

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("telemetrycore.envelopes", len(envs)),
		attribute.Bool("telemetrycore.grouped", s.renderer.Grouped()),
	)

	w.Header().Set("Content-Type", exposition.ContentType)
	_, err := s.renderer.RenderTo(w, envs...)
	s.metrics.RecordRender(len(envs), err)
	if err != nil {
		s.logger.Warn("Failed to write exposition payload", "error", err)
	}
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	format := codec.FormatJSON
	if name := r.URL.Query().Get("format"); name != "" {
		parsed, err := codec.ParseFormat(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = parsed
	}

	data, err := codec.Marshal(format, s.collector.Collect())
	if err != nil {
		s.logger.Error("Failed to encode envelope", "format", string(format), "error", err)
		http.Error(w, "failed to encode envelope", http.StatusInternalServerError)
		return
	}

	contentType := jsonContentType
	if format == codec.FormatCBOR {
		contentType = cborContentType
	}
	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(data)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	s.logger.Info("Server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
