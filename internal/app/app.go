// Package app wires the configuration, data, metrics and Solver together
// and dispatches on the run mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ChizhovVadim/StarganVC/internal/checkpoint"
	"github.com/ChizhovVadim/StarganVC/internal/config"
	"github.com/ChizhovVadim/StarganVC/internal/dataset"
	"github.com/ChizhovVadim/StarganVC/internal/env"
	"github.com/ChizhovVadim/StarganVC/internal/metrics"
	"github.com/ChizhovVadim/StarganVC/internal/solver"
	"github.com/ChizhovVadim/StarganVC/internal/speaker"
)

const logFileName = "train.log"

// Run prepares the output directories, builds the data pipeline and the
// Solver, then trains or tests according to cfg.Mode. Warnings from the
// configuration are logged once the run log is open.
func Run(ctx context.Context, cfg config.Config, stderr io.Writer, warnings ...string) error {
	var level = parseLevel(cfg.LogLevel)
	var logger = newLogger(stderr, level)

	if err := env.Prepare(logger, cfg.OutputDirs()...); err != nil {
		return err
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("env: %w", err)
	}
	defer logFile.Close()

	var runtime = cfg.RuntimeOptions(uuid.NewString())
	logger = newLogger(io.MultiWriter(stderr, logFile), level).With("run_id", runtime.RunID)
	logger.Info("configuration", "config", cfg)
	for _, warning := range warnings {
		logger.Warn(warning)
	}

	recorder, stopMetrics, err := startMetrics(ctx, logger, cfg, runtime.RunID)
	if err != nil {
		return err
	}
	defer stopMetrics()

	var pair = speaker.Resolve(cfg.DatasetUsing)
	logger.Info("evaluation speakers", "source", pair.Source, "target", pair.Target)

	ids, err := dataset.DiscoverSpeakers(cfg.TrainDataDir)
	if err != nil {
		return err
	}
	var speakers = dataset.NewSpeakerIndex(ids)
	if err := speakers.Check(cfg.NumSpeakers); err != nil {
		return err
	}
	logger.Info("speakers", "ids", speakers.IDs())

	testSet, err := dataset.LoadTestSet(ctx, logger, cfg.TestDataDir, cfg.WavDir,
		pair.Source, pair.Target, speakers, cfg.NumWorkers)
	if err != nil {
		return err
	}
	var store = checkpoint.NewStore(cfg.ModelSaveDir)

	switch cfg.Mode {
	case config.ModeTrain:
		utterances, err := dataset.LoadUtterances(ctx, logger, cfg.TrainDataDir, cfg.NumWorkers)
		if err != nil {
			return err
		}
		loader, err := dataset.NewLoader(ctx, logger, utterances, speakers, dataset.LoaderOptions{
			BatchSize:     cfg.BatchSize,
			SegmentFrames: cfg.SegmentFrames,
			Dim:           cfg.NumMcep,
			Workers:       cfg.NumWorkers,
			Seed:          runtime.Seed,
			Prefetch:      2 * cfg.NumWorkers,
		})
		if err != nil {
			return err
		}
		defer loader.Close()
		var s = solver.New(cfg, runtime, loader, testSet, store, recorder, logger)
		return s.Train(ctx)
	case config.ModeTest:
		var s = solver.New(cfg, runtime, nil, testSet, store, recorder, logger)
		return s.Test(ctx)
	default:
		return fmt.Errorf("config: mode %q: %w", cfg.Mode, config.ErrUnknownMode)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// startMetrics returns a Nop recorder when use_tensorboard is off. With
// metrics_addr set the Prometheus registry is served on /metrics.
func startMetrics(ctx context.Context, logger *slog.Logger, cfg config.Config, runID string) (metrics.Recorder, func(), error) {
	if !cfg.UseTensorboard {
		return metrics.Nop{}, func() {}, nil
	}
	provider, err := metrics.NewPrometheusProvider(runID)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	recorder, err := metrics.NewOTel(provider.MeterProvider)
	if err != nil {
		shutdown(context.Background(), logger, "metrics provider", provider)
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	if cfg.MetricsAddr == "" {
		return recorder, func() { shutdown(context.Background(), logger, "metrics provider", provider) }, nil
	}

	listener, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		shutdown(context.Background(), logger, "metrics provider", provider)
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	var mux = http.NewServeMux()
	mux.Handle("/metrics", provider.Handler())
	var server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	var stop = func() {
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(shutdownCtx, logger, "metrics server", server)
		shutdown(shutdownCtx, logger, "metrics provider", provider)
	}
	return recorder, stop, nil
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

func shutdown(ctx context.Context, logger *slog.Logger, name string, s shutdowner) {
	if err := s.Shutdown(ctx); err != nil {
		logger.Warn("shutdown failed", "component", name, "err", err)
	}
}
