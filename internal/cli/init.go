package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/planact/internal/config"
)

// timeNow is replaced in tests
var timeNow = time.Now

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default planact.yaml",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().String("dir", ".", "Directory to write the config file into")
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	initCmd.Flags().StringSlice("engine-cmd", nil, "Engine command and arguments, comma separated")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	force, _ := cmd.Flags().GetBool("force")
	engineCmd, _ := cmd.Flags().GetStringSlice("engine-cmd")

	path := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists\n\nHint: pass --force to overwrite it", path)
	}

	cfg := config.GenerateDefault()
	if len(engineCmd) > 0 {
		cfg.Engine.Cmd = engineCmd
	}
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
