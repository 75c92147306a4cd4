// Command fake-engine is a scripted stand-in for the coding-agent engine.
// It speaks the NDJSON engine protocol on stdin/stdout and logs to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iambrandonn/planact/pkg/testharness"
)

func main() {
	scenario := flag.String("scenario", testharness.ScenarioPlanAct,
		"Built-in scenario ("+strings.Join(testharness.Scenarios(), ", ")+")")
	scriptFile := flag.String("script", "", "Path to a JSON script file (overrides -scenario)")
	pace := flag.Duration("pace", 50*time.Millisecond, "Delay between scripted steps")
	heartbeatInterval := flag.Duration("heartbeat-interval", time.Second, "Heartbeat interval")
	disableHeartbeat := flag.Bool("no-heartbeat", false, "Disable heartbeats")
	tokensIn := flag.Int64("tokens-in", 1200, "Input tokens reported for the task")
	tokensOut := flag.Int64("tokens-out", 340, "Output tokens reported for the task")
	cost := flag.Float64("cost", 0.0123, "Cost reported for the task")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger, *scenario, *scriptFile, *pace, *heartbeatInterval, *disableHeartbeat, *tokensIn, *tokensOut, *cost); err != nil {
		logger.Error("fake engine failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, scenario, scriptFile string, pace, heartbeat time.Duration, noHeartbeat bool, tokensIn, tokensOut int64, cost float64) error {
	var (
		script testharness.Script
		err    error
	)
	if scriptFile != "" {
		script, err = testharness.LoadScript(scriptFile)
	} else {
		script, err = testharness.ScenarioScript(scenario, pace)
	}
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	logger.Info("fake engine starting",
		"scenario", scenario,
		"script", scriptFile,
		"pid", os.Getpid())

	eng := testharness.NewFakeEngine(script, logger)
	eng.TokensIn = tokensIn
	eng.TokensOut = tokensOut
	eng.Cost = cost

	server := testharness.NewStdioServer(eng, os.Stdin, os.Stdout, logger)
	server.HeartbeatInterval = heartbeat
	server.DisableHeartbeat = noHeartbeat

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("fake engine stopped")
	return nil
}
