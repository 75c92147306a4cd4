package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iambrandonn/planact/internal/config"
	"github.com/iambrandonn/planact/internal/engine"
	"github.com/iambrandonn/planact/internal/server"
	"github.com/iambrandonn/planact/internal/session"
)

// errEngineExited means the engine process ended while the server was up
var errEngineExited = errors.New("engine exited unexpectedly")

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine and serve the control endpoint",
	Long: `Start the engine subprocess and listen for POST /task and POST /shutdown.
Only one task runs at a time; a second /task while one is active is rejected.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config: 127.0.0.1:9877)")
	serveCmd.Flags().StringP("workspace", "w", "", "Workspace directory (default: working directory)")
	serveCmd.Flags().StringSlice("engine-cmd", nil, "Engine command and arguments, comma separated")
	serveCmd.Flags().Duration("timeout", 0, "Overall run timeout (default from config: 30m)")
	serveCmd.Flags().String("results-dir", "", "Results directory inside the workspace (default: results)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateEngine(); err != nil {
		return err
	}

	logger, err := loggerFor(cmd, cfg)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		logger.Info("loaded configuration", "path", cfgPath)
	}

	workspacePath := cfg.Workspace.Path
	if workspacePath == "" {
		if workspacePath, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, workspacePath, logger)
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("addr") {
		addr, err := flags.GetString("addr")
		if err != nil {
			return err
		}
		cfg.Server.Addr = addr
	}
	if flags.Changed("workspace") {
		ws, err := flags.GetString("workspace")
		if err != nil {
			return err
		}
		cfg.Workspace.Path = ws
	}
	if flags.Changed("engine-cmd") {
		engineCmd, err := flags.GetStringSlice("engine-cmd")
		if err != nil {
			return err
		}
		cfg.Engine.Cmd = engineCmd
	}
	if flags.Changed("timeout") {
		timeout, err := flags.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Run.TimeoutSec = int(timeout / time.Second)
	}
	if flags.Changed("results-dir") {
		dir, err := flags.GetString("results-dir")
		if err != nil {
			return err
		}
		cfg.Run.ResultsDir = dir
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, workspacePath string, logger *slog.Logger) error {
	proc := engine.NewProcess(cfg.Engine.Cmd, cfg.Engine.Env, cfg.RequestTimeout(), logger.With("component", "engine"))

	// The engine must outlive the request contexts; it is stopped explicitly below.
	if err := proc.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := proc.Stop(stopCtx); err != nil {
			logger.Warn("engine did not stop cleanly", "error", err)
		}
	}()

	manager := session.NewManager(proc, session.Settings{
		Workspace:            workspacePath,
		ResultsDir:           cfg.Run.ResultsDir,
		Timeout:              cfg.RunTimeout(),
		PhaseSwitchDelay:     cfg.PhaseSwitchDelay(),
		AutoRespondDelay:     cfg.AutoRespondDelay(),
		BlindInterval:        cfg.BlindApprovalInterval(),
		DefaultProvider:      cfg.Run.DefaultProvider,
		FilenameMaxTaskChars: cfg.Run.FilenameMaxTaskChars,
	}, logger)

	if err := manager.Bootstrap(ctx); err != nil {
		logger.Warn("continuing without engine auto-approval", "error", err)
	}

	runtime := server.NewRuntime(manager, server.Options{
		Addr:          cfg.Server.Addr,
		ShutdownGrace: cfg.ShutdownGrace(),
	}, logger)

	serveCtx, serveCancel := context.WithCancel(ctx)
	defer serveCancel()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		defer serveCancel()
		return runtime.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-proc.Done():
			return errEngineExited
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
