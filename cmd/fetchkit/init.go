package main

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fetchkit/fetchkit/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Init writes a default fetchkit configuration file to
~/.fetchkit/config.yaml, creating the cache and permanent storage
directories it points to.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"overwrite an existing configuration file without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigPath()

	if _, err := os.Stat(path); err == nil && !initForce {
		overwrite := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("%s already exists. Overwrite it?", path),
			Default: false,
		}
		if err := survey.AskOne(prompt, &overwrite); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if err := os.MkdirAll(cfg.Cache.Directory, 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Cache.PermanentDirectory, 0o750); err != nil {
		return fmt.Errorf("create permanent storage directory: %w", err)
	}

	if err := config.Save(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	color.Green("Wrote configuration to %s", path)
	fmt.Printf("  cache directory:     %s\n", cfg.Cache.Directory)
	fmt.Printf("  permanent directory: %s\n", cfg.Cache.PermanentDirectory)
	fmt.Printf("  simultaneous downloads: %d\n", cfg.Queue.SimultaneousDownloads)
	fmt.Printf("  mirror retry budget:    %d\n", cfg.Mirror.RetryBudget)

	return nil
}
