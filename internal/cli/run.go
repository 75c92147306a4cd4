package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/planact/internal/client"
	"github.com/iambrandonn/planact/internal/fsutil"
	"github.com/iambrandonn/planact/internal/recorder"
	"github.com/iambrandonn/planact/internal/server"
	"github.com/iambrandonn/planact/internal/transcript"
)

// ErrNotCompleted is returned by run when the task did not complete
var ErrNotCompleted = errors.New("task did not complete")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Submit a task to a running server and wait for its outcome",
	Long: `Submit a task to the control endpoint, wait for it to finish, print the
response and save a copy under <workspace>/results. The server is always asked
to shut down afterwards. Exits non-zero unless the task completed.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("task", "t", "", "Task text (required)")
	runCmd.Flags().StringP("workspace", "w", "", "Workspace directory (required)")
	runCmd.Flags().String("server", "", "Control endpoint address (default from config)")
	runCmd.Flags().String("api-key", "", "Provider API key passed to the engine")
	runCmd.Flags().String("api-provider", "", "Provider name (default from server config)")
	runCmd.Flags().Float64("wait-seconds", 0, "Blind approval interval in seconds")
	runCmd.Flags().String("results-filename", "", "Results file name inside the results directory")
	runCmd.Flags().Duration("request-timeout", client.DefaultTaskTimeout, "How long to wait for the task response")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := loggerFor(cmd, cfg)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	task, _ := flags.GetString("task")
	workspacePath, _ := flags.GetString("workspace")
	addr, _ := flags.GetString("server")
	apiKey, _ := flags.GetString("api-key")
	apiProvider, _ := flags.GetString("api-provider")
	waitSeconds, _ := flags.GetFloat64("wait-seconds")
	resultsFilename, _ := flags.GetString("results-filename")
	timeout, _ := flags.GetDuration("request-timeout")

	if strings.TrimSpace(task) == "" {
		return fmt.Errorf("--task is required")
	}
	if workspacePath == "" {
		return fmt.Errorf("--workspace is required")
	}
	if info, err := os.Stat(workspacePath); err != nil || !info.IsDir() {
		return fmt.Errorf("workspace %s does not exist or is not a directory", workspacePath)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c := client.New(addr)
	defer shutdownServer(ctx, c, logger)

	logger.Info("submitting task", "server", addr, "task", task)
	resp, raw, err := c.RunTask(ctx, server.TaskRequest{
		Task:            task,
		APIKey:          apiKey,
		APIProvider:     apiProvider,
		WaitSeconds:     waitSeconds,
		ResultsFilename: resultsFilename,
	}, timeout)
	if len(raw) > 0 {
		printJSON(cmd.OutOrStdout(), raw)
	}
	if err != nil {
		return fmt.Errorf("task request failed: %w", err)
	}

	responsePath := filepath.Join(workspacePath, cfg.Run.ResultsDir, responseName(resp.ResultsPath, resultsFilename, task))
	if err := fsutil.AtomicWrite(responsePath, append(raw, '\n')); err != nil {
		logger.Warn("failed to save response", "path", responsePath, "error", err)
	} else {
		logger.Info("response saved", "path", responsePath)
	}

	printSummary(cmd.ErrOrStderr(), resp.ResultsPath, logger)

	if !resp.Completed {
		if resp.Timeout {
			return fmt.Errorf("%w: timed out", ErrNotCompleted)
		}
		return ErrNotCompleted
	}
	return nil
}

// responseName derives "<name>_response.json" from the results file name
func responseName(resultsPath, requested, task string) string {
	base := filepath.Base(resultsPath)
	switch {
	case resultsPath != "":
	case requested != "":
		base = filepath.Base(requested)
	default:
		base = recorder.Filename(task, recorder.DefaultMaxTaskChars, timeNow())
	}
	return strings.TrimSuffix(base, ".json") + "_response.json"
}

func shutdownServer(ctx context.Context, c *client.Client, logger *slog.Logger) {
	resp, err := c.Shutdown(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("failed to shut down server", "error", err)
		return
	}
	logger.Info("server shutdown requested", "message", resp.Message)
}

func printJSON(w io.Writer, raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(raw)))
		return
	}
	fmt.Fprintln(w, buf.String())
}

// printSummary reports the snapshot when the server shares this filesystem
func printSummary(w io.Writer, resultsPath string, logger *slog.Logger) {
	if resultsPath == "" {
		return
	}
	data, err := os.ReadFile(resultsPath)
	if err != nil {
		logger.Debug("results not readable locally", "path", resultsPath, "error", err)
		return
	}
	var snap recorder.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		logger.Warn("failed to parse results", "path", resultsPath, "error", err)
		return
	}
	fmt.Fprintln(w, transcript.NewFormatter().FormatSummary(snap))
}
