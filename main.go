package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/appserver"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/bundle"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/config"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/id"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/journal"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/logger"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/metrics"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/preflight"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/provision"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/storage"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/sysinfo"
	"github.com/jagdalepatil2002/tax-analyzer-agent/internal/telemetry"
)

const serviceName = "tax-analyzer-agent"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", "error", err)
	}
	logger.Init(logger.ParseLevel(os.Getenv("LOG_LEVEL")), os.Getenv("LOG_JSON") == "true")
	metrics.Init()
	logger.Info("Starting tax analyzer agent")

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  serviceName,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
		Enabled:      os.Getenv("OTLP_ENDPOINT") != "",
	})
	if err != nil {
		logger.Warn("telemetry init failed", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	runID := id.GenerateRunID()
	instanceID := id.GetInstanceID()
	info := sysinfo.GetInfo()
	logger.Info("agent ready",
		"run_id", runID,
		"instance_id", instanceID,
		"port", cfg.Port,
		"app_dir", cfg.AppDir,
		"cpus", info.CPUCount,
		"memory_mb", info.MemoryMB,
		"hostname", info.Hostname,
	)

	var jnl *journal.Journal
	if cfg.StateDBPath != "" {
		jnl, err = journal.Open(cfg.StateDBPath)
		if err != nil {
			logger.Warn("run journal unavailable", "error", err)
			jnl = nil
		} else if err := jnl.Migrate(); err != nil {
			logger.Warn("run journal migration failed", "error", err)
			jnl.Close()
			jnl = nil
		}
	}
	recordJournal(jnl, func() error {
		return jnl.StartRun(&journal.Run{
			ID:         runID,
			InstanceID: instanceID,
			Hostname:   info.Hostname,
			Port:       cfg.Port,
			AppDir:     cfg.AppDir,
		})
	})

	// Start metrics HTTP server
	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", metrics.Handler())
			logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	tracer := telemetry.Tracer(serviceName)
	ctx, runSpan := tracer.Start(ctx, "startup", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("instance.id", instanceID),
	))

	finish := func(code int, runErr error) {
		recordJournal(jnl, func() error { return jnl.FinishRun(runID, code, runErr) })
		if jnl != nil {
			jnl.Close()
		}
		runSpan.End()
		shutdownTelemetry(context.Background())
		os.Exit(code)
	}

	steps := &stepRunner{jnl: jnl, runID: runID, tracer: tracer}

	if cfg.BundleConfigured() {
		err := steps.run(ctx, "fetch_bundle", func(ctx context.Context) error {
			store, err := storage.NewMinio(storage.MinioConfig{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
			})
			if err != nil {
				return err
			}
			fetcher := bundle.NewFetcher(store, cfg.MinioBucket, cfg.BundleObject, cfg.BundleCacheDir)
			return fetcher.Deploy(ctx, cfg.AppDir)
		})
		if err != nil {
			logger.Error("bundle deployment failed", "error", err)
			finish(1, err)
		}
	}

	if venv := cfg.DetectVenv(); venv != "" {
		logger.Info("Virtual environment activated", "dir", venv)
	}

	installer := provision.NewInstaller(cfg.AptGetBin, cfg.PipBin, cfg.AppDir)

	if err := steps.run(ctx, "apt_install", installer.InstallSystemPackages); err != nil {
		logger.Error("system package install failed", "error", err)
		finish(1, err)
	}

	if err := steps.run(ctx, "pip_install", installer.InstallPythonRequirements); err != nil {
		logger.Error("python requirements install failed", "error", err)
		finish(1, err)
	}

	steps.run(ctx, "preflight", func(ctx context.Context) error {
		checker := &preflight.Checker{
			DatabaseURL:  cfg.DatabaseURL,
			GeminiAPIKey: cfg.GeminiAPIKey,
			AppDir:       cfg.AppDir,
		}
		for _, res := range checker.Run(ctx) {
			status := "ok"
			if !res.OK {
				status = "warn"
			}
			recordJournal(jnl, func() error {
				return jnl.RecordStep(&journal.Step{
					RunID:  runID,
					Name:   "preflight_" + res.Check,
					Status: status,
					Detail: res.Detail,
				})
			})
		}
		return nil
	})

	stdout := telemetry.NewProcessLogWriter(runID, "gunicorn", false)
	stderr := telemetry.NewProcessLogWriter(runID, "gunicorn", true)

	launchCtx, launchSpan := tracer.Start(ctx, "launch")
	stdout.SetSpan(launchSpan)
	stderr.SetSpan(launchSpan)

	server := &appserver.Server{
		Bin:    cfg.GunicornBin,
		Port:   cfg.Port,
		Dir:    cfg.AppDir,
		Stdout: stdout,
		Stderr: stderr,
	}

	logger.Info("starting application server", "port", cfg.Port)
	start := time.Now()
	code, err := server.Run(launchCtx)
	stdout.Flush()
	stderr.Flush()
	launchSpan.End()

	if err != nil {
		logger.Error("failed to launch application server", "error", err)
		exitCode := 1
		if errors.Is(err, exec.ErrNotFound) {
			exitCode = 127
		}
		metrics.RecordStep("launch", "error", time.Since(start))
		recordJournal(jnl, func() error {
			return jnl.RecordStep(&journal.Step{
				RunID:    runID,
				Name:     "launch",
				Status:   "error",
				Detail:   err.Error(),
				Duration: time.Since(start),
			})
		})
		finish(exitCode, err)
	}

	metrics.RecordStep("launch", "ok", time.Since(start))
	recordJournal(jnl, func() error {
		return jnl.RecordStep(&journal.Step{
			RunID:    runID,
			Name:     "launch",
			Status:   "ok",
			Duration: time.Since(start),
		})
	})

	logger.Info("agent exiting", "code", code)
	finish(code, nil)
}

type stepRunner struct {
	jnl    *journal.Journal
	runID  string
	tracer trace.Tracer
}

func (r *stepRunner) run(ctx context.Context, name string, fn func(context.Context) error) error {
	stepCtx, span := r.tracer.Start(ctx, name)
	start := time.Now()
	err := fn(stepCtx)
	duration := time.Since(start)
	span.End()

	status := "ok"
	detail := ""
	if err != nil {
		status = "error"
		detail = err.Error()
	}
	metrics.RecordStep(name, status, duration)
	recordJournal(r.jnl, func() error {
		return r.jnl.RecordStep(&journal.Step{
			RunID:    r.runID,
			Name:     name,
			Status:   status,
			Detail:   detail,
			Duration: duration,
		})
	})

	if err == nil {
		logger.Info("startup step complete", "step", name, "duration", duration)
	}
	return err
}

func recordJournal(jnl *journal.Journal, write func() error) {
	if jnl == nil {
		return
	}
	if err := write(); err != nil {
		metrics.JournalWritesTotal.WithLabelValues("error").Inc()
		logger.Warn("journal write failed", "error", err)
		return
	}
	metrics.JournalWritesTotal.WithLabelValues("success").Inc()
}
