// Package cmd provides CLI commands for the engram episodic memory engine.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/adalundhe/engram/core/config"
	"github.com/adalundhe/engram/core/memory"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Engram - an episodic memory store with hierarchical retrieval",
	Long: `Engram stores task episodes durably and retrieves them with
coarse-to-fine spatiotemporal filtering plus diversity-aware re-ranking.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves the effective configuration: file when given,
// defaults otherwise.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.Default(), nil
}

// openEngine builds an engine from the effective configuration. Callers
// must Close it.
func openEngine() (*memory.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return memory.NewEngine(cfg, memory.WithLogger(logger))
}
