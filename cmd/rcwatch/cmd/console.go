package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rcwatch/rcwatch/internal/console"
	"github.com/rcwatch/rcwatch/internal/core/config"
	"github.com/rcwatch/rcwatch/internal/watch"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive rule console",
	Long: `Start an interactive console to install watches, feed JSON events to
them and inspect compiled rules. With --sample, the eval command evaluates
rules against the given JSON event.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().String("sample", "", "JSON file holding a sample event for eval")
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var sample any
	if path, _ := cmd.Flags().GetString("sample"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read sample: %w", err)
		}
		if sample, err = console.DecodeSample(data); err != nil {
			return err
		}
	}

	c := console.New(cmd.OutOrStdout(), sample, watch.Options{
		MaxBufferBytes:  cfg.Watcher.MaxBufferBytes,
		UnescapeUnicode: cfg.Watcher.UnescapeUnicode,
		Logger:          slog.Default(),
	})
	return c.Run(cmd.Context())
}
