// Package main is the entry point for the telemetrycore binary.
// It serves envelopes as a Prometheus scrape target and offers offline
// render and convert tools for envelope files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SeanFellowes/TelemetryCore/pkg/codec"
	"github.com/SeanFellowes/TelemetryCore/pkg/collector"
	"github.com/SeanFellowes/TelemetryCore/pkg/config"
	"github.com/SeanFellowes/TelemetryCore/pkg/envelope"
	"github.com/SeanFellowes/TelemetryCore/pkg/exposition"
	"github.com/SeanFellowes/TelemetryCore/pkg/logging"
	"github.com/SeanFellowes/TelemetryCore/pkg/server"
	"github.com/SeanFellowes/TelemetryCore/pkg/spool"
	"github.com/SeanFellowes/TelemetryCore/pkg/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const tracingShutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for telemetrycore
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "telemetrycore",
		Short: "Telemetry envelopes as Prometheus metrics",
		Long: `Renders telemetry envelopes in the Prometheus text exposition format.

The serve command exposes the host's own envelope plus every envelope found
in a spool directory. render and convert work on envelope files offline.

Example:
  telemetrycore serve --config telemetrycore.yaml
  telemetrycore render --now 2024-05-01T12:00:00Z bus.json`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRenderCmd(),
		newConvertCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve envelopes over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	cmd.Flags().String("listen", "", "Address to listen on, overrides server.listen_addr")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("pretty", false, "Human readable log output")
	cmd.Flags().String("spool", "", "Spool directory, overrides spool.dir")
	return cmd
}

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render [files...]",
		Short: "Render envelope files (or a JSON envelope on stdin) as exposition text",
		RunE:  runRender,
	}
	cmd.Flags().Bool("grouped", false, "Emit one HELP/TYPE header per metric family")
	cmd.Flags().String("now", "", "Reference time for heartbeat ages (RFC3339), defaults to the current time")
	return cmd
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Re-encode an envelope file; out may be - for stdout",
		Args:  cobra.ExactArgs(2),
		RunE:  runConvert,
	}
	cmd.Flags().String("to", "", "Output format (json, cbor), defaults to the extension of out")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "telemetrycore %s\n", version)
		},
	}
}

// loadServeConfig reads the configuration file, applies flag overrides and
// validates the result once all overrides are in place.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Read(path)
	if err != nil {
		return nil, err
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.ListenAddr = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if pretty, _ := cmd.Flags().GetBool("pretty"); pretty {
		cfg.Logging.Pretty = true
	}
	if dir, _ := cmd.Flags().GetString("spool"); dir != "" {
		cfg.Spool.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// buildServer assembles the collector, optional spool and HTTP server.
func buildServer(cfg *config.Config, logger *slog.Logger) (*server.Server, *spool.Spool, error) {
	col := collector.New(collector.Identity{
		System:   cfg.Identity.System,
		Env:      cfg.Identity.Env,
		Instance: cfg.Identity.Instance,
		Version:  cfg.Identity.Version,
	})

	metrics := server.NewMetrics()

	var (
		sources []server.EnvelopeSource
		sp      *spool.Spool
	)
	if cfg.Spool.Dir != "" {
		var err error
		sp, err = spool.Open(cfg.Spool.Dir, logger, spool.WithOnReload(metrics.RecordSpoolReload))
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, sp)
	}

	var opts []exposition.Option
	if cfg.Exposition.GroupFamilies {
		opts = append(opts, exposition.WithGroupedFamilies())
	}

	srv, err := server.New(server.Config{
		Collector:    col,
		Sources:      sources,
		Renderer:     exposition.NewRenderer(opts...),
		Metrics:      metrics,
		Logger:       logger,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, sp, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Environment:    cfg.Identity.Env,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tracingShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	srv, sp, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting telemetrycore",
		"version", version,
		"system", cfg.Identity.System,
		"env", cfg.Identity.Env,
		"spool", cfg.Spool.Dir,
		"grouped", cfg.Exposition.GroupFamilies,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ListenAddr)
	})
	if sp != nil && cfg.Spool.Watch {
		g.Go(func() error {
			return sp.Watch(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// parseNow reads the --now flag. An empty value yields the system clock.
func parseNow(value string) (exposition.Clock, error) {
	if value == "" {
		return exposition.SystemClock, nil
	}
	now, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("invalid --now %q: %w", value, err)
	}
	return exposition.ClockFunc(func() time.Time { return now }), nil
}

// readEnvelopes decodes every file in paths, or a JSON envelope from stdin
// when no paths are given.
func readEnvelopes(stdin io.Reader, paths []string) ([]envelope.Envelope, error) {
	if len(paths) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		e, err := codec.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("stdin: %w", err)
		}
		return []envelope.Envelope{e}, nil
	}

	envs := make([]envelope.Envelope, 0, len(paths))
	for _, path := range paths {
		e, err := codec.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		envs = append(envs, e)
	}
	return envs, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	grouped, err := cmd.Flags().GetBool("grouped")
	if err != nil {
		return fmt.Errorf("failed to get grouped flag: %w", err)
	}
	nowFlag, err := cmd.Flags().GetString("now")
	if err != nil {
		return fmt.Errorf("failed to get now flag: %w", err)
	}

	clock, err := parseNow(nowFlag)
	if err != nil {
		return err
	}

	envs, err := readEnvelopes(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	opts := []exposition.Option{exposition.WithClock(clock)}
	if grouped {
		opts = append(opts, exposition.WithGroupedFamilies())
	}

	_, err = exposition.NewRenderer(opts...).RenderTo(cmd.OutOrStdout(), envs...)
	return err
}

func runConvert(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]

	to, err := cmd.Flags().GetString("to")
	if err != nil {
		return fmt.Errorf("failed to get to flag: %w", err)
	}

	var format codec.Format
	switch {
	case to != "":
		format, err = codec.ParseFormat(to)
	case out == "-":
		err = errors.New("--to is required when writing to stdout")
	default:
		format, err = codec.FormatFor(out)
	}
	if err != nil {
		return err
	}

	e, err := codec.DecodeFile(in)
	if err != nil {
		return err
	}

	data, err := codec.Marshal(format, e)
	if err != nil {
		return err
	}

	if out == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return nil
}
