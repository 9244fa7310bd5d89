package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/afwm/CCBP-pub/internal/batch"
	"github.com/afwm/CCBP-pub/internal/config"
	"github.com/afwm/CCBP-pub/internal/engine"
	"github.com/afwm/CCBP-pub/internal/infrastructure"
	"github.com/afwm/CCBP-pub/internal/license"
	"github.com/afwm/CCBP-pub/internal/rules"
	transport "github.com/afwm/CCBP-pub/internal/transport/http"
)

// Application owns the wired process.
type Application struct {
	Config *config.Config
	Logger *slog.Logger

	Auth   *license.Authenticator
	Rules  *rules.RuleSet
	Engine *engine.Engine
	Runner *batch.Runner
	Hub    *transport.Hub

	server *http.Server
	otel   *infrastructure.TracerProviders
}

// New builds the application from a config file path. Configuration or
// rule-file problems are fatal here, before anything runs.
func New(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeTracing(context.Background())
	if err != nil {
		return nil, fmt.Errorf("initialize tracing: %w", err)
	}

	auth, err := license.NewAuthenticator(cfg.License, logger)
	if err != nil {
		return nil, err
	}

	ruleSet, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	eng := engine.New(ruleSet)
	runner := batch.NewRunner(auth, eng, cfg.Batch.Parallelism, logger)
	hub := transport.NewHub(logger)

	a := &Application{
		Config: cfg,
		Logger: logger,
		Auth:   auth,
		Rules:  ruleSet,
		Engine: eng,
		Runner: runner,
		Hub:    hub,
		otel:   otelProviders,
	}

	server := transport.NewServer(cfg.Server, auth, runner, hub, logger)
	a.server = &http.Server{
		// Loopback only: this is a desktop companion process.
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("application initialized",
		slog.String("addr", a.server.Addr),
		slog.Int("path_rules", len(ruleSet.PathRules)),
		slog.Int("text_rules", len(ruleSet.TextRules)))
	return a, nil
}

// Serve runs the local API until the context is cancelled or an
// interrupt arrives, then shuts down gracefully.
func (a *Application) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.Hub.Run()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("serving local API", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.Logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.Hub.Stop()
	if err := a.otel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RunOnce executes a single batch job and returns its report. Used by
// the CLI's one-shot mode; progress goes to the logger instead of the
// websocket feed.
func (a *Application) RunOnce(ctx context.Context, spec batch.JobSpec) (*batch.Report, error) {
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		a.otel.Shutdown(shutdownCtx)
		infrastructure.CloseLogFile()
	}()

	return a.Runner.Run(ctx, spec, func(e batch.Event) {
		a.Logger.Info("progress",
			slog.String("type", e.Type),
			slog.String("message", e.Message),
			slog.String("project", e.ProjectName),
			slog.Int("completed", e.Completed),
			slog.Int("total", e.Total))
	})
}
