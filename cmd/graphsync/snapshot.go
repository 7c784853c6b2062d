package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/scene"
	"github.com/1ureka/graphsync/internal/snapshot"
)

var errMissingURL = errors.New("missing master URL: pass it as an argument or set transport.url")

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "List and inspect saved scenes",
		Long: `List and inspect saved scenes.

Snapshots go to the directory in snapshot.dir, or to the S3 bucket in
snapshot.bucket when one is set.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.RoleMaster)
			if err != nil {
				return err
			}
			names, err := snapshot.OpenStore(cfg.Snapshot).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				pterm.Info.Println("No snapshots")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print the scene held by a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.RoleMaster)
			if err != nil {
				return err
			}
			data, err := snapshot.OpenStore(cfg.Snapshot).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			m, err := snapshot.Decode(cfg.Protocol, scene.NewRegistry(), data)
			if err != nil {
				return err
			}
			world := m.Find(scene.WorldName)
			if world == nil {
				return fmt.Errorf("%s holds no %q root", args[0], scene.WorldName)
			}
			pterm.Info.Printfln("%s: version %d, %d objects", args[0], m.Version(), m.Table().Len())
			for _, line := range scene.Describe(world) {
				fmt.Println(line)
			}
			return nil
		},
	})

	return cmd
}

func dumpCmd() *cobra.Command {
	var file bool

	cmd := &cobra.Command{
		Use:   "dump <name>",
		Short: "Print a snapshot as JSON lines, one per command or opcode",
		Long: `Print a snapshot as JSON lines, one per command or opcode.

Examples:
  graphsync dump scene-20260102-150405
  graphsync dump --file ./saved.gsnap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.RoleMaster)
			if err != nil {
				return err
			}
			data, err := readSnapshot(cmd.Context(), cfg, args[0], file)
			if err != nil {
				return err
			}
			_, err = snapshot.Dump(os.Stdout, cfg.Protocol, scene.NewRegistry(), data)
			return err
		},
	}

	cmd.Flags().BoolVarP(&file, "file", "f", false, "Read the argument as a file path instead of a snapshot name")

	return cmd
}

func readSnapshot(ctx context.Context, cfg config.Config, arg string, file bool) ([]byte, error) {
	if !file {
		return snapshot.OpenStore(cfg.Snapshot).Get(ctx, arg)
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return data, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printBanner()
			fmt.Printf("  Version:    %s\n", version)
			fmt.Printf("  Protocol:   %d\n", config.DefaultProtocol().Version)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
