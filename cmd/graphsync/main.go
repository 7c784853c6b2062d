// Command graphsync is the CLI entry point.
//
// A master owns a scene graph and streams every change to the clients
// connected to it over websockets or WebRTC DataChannels. Clients keep a
// replica that converges on the master's.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/util"
)

var version = "dev"

// common flags shared by every command.
var (
	configPath string
	debugMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "graphsync",
		Short: "Replicate an object graph between a master and its clients",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugMode {
				util.EnableDebug()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		masterCmd(),
		clientCmd(),
		snapshotCmd(),
		dumpCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads --config on top of the defaults, or returns the
// defaults when no file is given.
func loadConfig(role config.Role) (config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		cfg.Role = role
		return cfg, nil
	}
	cfg, unknown, err := config.Load(configPath)
	for _, key := range unknown {
		util.LogWarning("unknown config key %q", key)
	}
	if err != nil {
		return cfg, err
	}
	cfg.Role = role
	if cfg.Log.Debug {
		util.EnableDebug()
	}
	return cfg, nil
}

func printBanner() {
	pterm.Info.Println("graphsync v" + version)
	pterm.Println()
}
