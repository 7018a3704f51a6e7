package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chisel/internal/version"
	"chisel/internal/web"
	"chisel/pkg/agent"
	"chisel/pkg/design"
	"chisel/pkg/runlog"
	"chisel/pkg/session"
	"chisel/pkg/vision"
)

// defaultListen is where the API binds when neither flag nor config file say.
const defaultListen = "0.0.0.0:8000"

// serveConfig holds parsed flags for the serve command.
type serveConfig struct {
	listen   string
	logLevel string
}

// newServeCmd creates the "chisel serve" subcommand.
func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON API for designs and refinement sessions",
		Long:  "Serves the render, validate, and file endpoints plus the asynchronous\nagent session surface over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, &cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.listen, "listen", "", `listen address (default "`+defaultListen+`")`)
	cmd.Flags().StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *serveConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger := newLogger(cmd.ErrOrStderr(), cfg.logLevel)

	paths, file, err := loadEnvironment()
	if err != nil {
		return err
	}
	renderer, err := newRenderer(file)
	if err != nil {
		return err
	}
	apiKey, err := vision.LoadAPIKey(".")
	if err != nil {
		return err
	}

	svc := &session.Service{
		Store:   session.NewStore(),
		Stepper: &agent.Stepper{Previewer: renderer, Caller: vision.NewClient(apiKey)},
		Gate:    &agent.Gate{Validator: renderer},
		DataDir: paths.DataDir,
	}
	if runLog, logErr := runlog.Open(paths.RunLogPath); logErr != nil {
		logger.Warn("run log unavailable", "error", logErr)
	} else {
		defer runLog.Close()
		svc.Recorder = &sessionRecorder{log: runLog, logger: logger}
	}

	srv := web.New(renderer, svc, paths.DataDir, version.String(), logger)
	defer srv.Close()

	return serveHTTP(ctx, logger, resolveListen(cfg.listen, file.Listen), srv.Routes())
}

// resolveListen picks the bind address: flag, then config file, then default.
func resolveListen(flagVal, fileVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if fileVal != "" {
		return fileVal
	}
	return defaultListen
}

// serveHTTP runs the listener until it fails or ctx is cancelled, then shuts
// down gracefully with a 5-second drain budget.
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	}
}

// newLogger builds a text slog logger at the named level; unknown names get
// info.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// sessionRecorder adapts session lifecycle events to the run log. Failed
// writes are logged and dropped so the session flow never blocks on them.
type sessionRecorder struct {
	log    *runlog.Log
	logger *slog.Logger
}

func (r *sessionRecorder) RunStarted(sessionID, path string, mode design.Mode, model string) {
	r.report(r.log.StartRun(context.Background(), runlog.Run{
		ID:       sessionID,
		ScadFile: path,
		Mode:     mode,
		Surface:  "session",
		Model:    model,
	}))
}

func (r *sessionRecorder) IterationEvaluated(sessionID string, rec design.IterationRecord, eval design.Evaluation) {
	r.report(r.log.RecordIteration(context.Background(), sessionID, rec, eval))
}

func (r *sessionRecorder) CodeApplied(sessionID string, iteration int) {
	r.report(r.log.RecordApply(context.Background(), sessionID, iteration, true, ""))
}

func (r *sessionRecorder) ApplyFailed(sessionID string, iteration int, err error) {
	r.report(r.log.RecordApply(context.Background(), sessionID, iteration, false, err.Error()))
}

func (r *sessionRecorder) RunFinished(sessionID string, finalScore int) {
	r.report(r.log.FinishRun(context.Background(), sessionID, "stopped", finalScore))
}

func (r *sessionRecorder) report(err error) {
	if err != nil {
		r.logger.Warn("run log write failed", "error", err)
	}
}
