package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/iambrandonn/planact/internal/config"
)

func newLogger(output io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "tint":
		return slog.New(tint.NewHandler(output, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05.000Z07:00",
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if a.Value.Kind() == slog.KindAny {
					if _, ok := a.Value.Any().(error); ok {
						return tint.Attr(9, a)
					}
				}
				return a
			},
		})), nil
	case "text":
		return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q (allowed: tint, text, json)", format)
	}
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q (allowed: %q, %q, %q, %q)",
			input,
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}
}

// loggerFor builds the logger from the --log-* flags, falling back to cfg
func loggerFor(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	levelName, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		if levelName == "" {
			levelName = cfg.Logging.Level
		}
		if format == "" {
			format = cfg.Logging.Format
		}
	}

	level, err := parseLogLevel(levelName)
	if err != nil {
		return nil, err
	}
	return newLogger(cmd.ErrOrStderr(), format, level)
}

// loadConfig loads the --config file, or the nearest planact.yaml
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}
	return config.Load(path)
}
