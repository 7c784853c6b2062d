package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/1ureka/graphsync/internal/app"
	"github.com/1ureka/graphsync/internal/config"
	"github.com/1ureka/graphsync/internal/signaling"
	"github.com/1ureka/graphsync/internal/snapshot"
	"github.com/1ureka/graphsync/internal/util"
)

func masterCmd() *cobra.Command {
	var (
		listen  string
		pin     string
		noPIN   bool
		seed    int
		restore string
		save    bool
		every   time.Duration
		doSync  bool
		rate    int
	)

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Serve a scene to clients",
		Long: `Serve a scene to clients.

Clients connect on /ws, or negotiate a WebRTC DataChannel on /signal.
The master animates the nodes of its models group every frame and
streams each change to every client that received the scene.

Examples:
  graphsync master
  graphsync master --listen :7400 --seed 8
  graphsync master --restore scene-20260102-150405 --save --every 1m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.RoleMaster)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Transport.Listen = listen
			}
			if flags.Changed("sync") {
				cfg.Protocol.DoSync = doSync
			}
			if flags.Changed("rate") {
				cfg.Transport.FrameRate = rate
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			switch {
			case noPIN:
				pin = ""
			case pin == "" && cfg.Transport.PIN != "":
				pin = cfg.Transport.PIN
			case pin == "":
				pin = signaling.GeneratePIN(4)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			store := snapshot.OpenStore(cfg.Snapshot)
			opts := []app.MasterOption{app.WithPIN(pin), app.WithSeed(seed)}
			if restore != "" {
				data, err := store.Get(ctx, restore)
				if err != nil {
					return err
				}
				opts = append(opts, app.WithRestore(data))
			}
			if save {
				opts = append(opts, app.WithSnapshots(store, every))
			}

			printBanner()
			m, err := app.NewMaster(cfg, opts...)
			if err != nil {
				return err
			}
			if err := m.Serve(ctx); err != nil {
				return err
			}
			util.LogInfo("master stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVar(&pin, "pin", "", "PIN clients must present (random when unset)")
	cmd.Flags().BoolVar(&noPIN, "no-pin", false, "Accept clients without a PIN")
	cmd.Flags().IntVar(&seed, "seed", 4, "Animated nodes in a new scene")
	cmd.Flags().StringVar(&restore, "restore", "", "Start from the named snapshot")
	cmd.Flags().BoolVar(&save, "save", false, "Save a snapshot on shutdown")
	cmd.Flags().DurationVar(&every, "every", 0, "Also save a snapshot at this interval (with --save)")
	cmd.Flags().BoolVar(&doSync, "sync", false, "Wait for every client each frame")
	cmd.Flags().IntVar(&rate, "rate", 0, "Frames per second (default from config)")

	return cmd
}

func clientCmd() *cobra.Command {
	var (
		pin         string
		dataChannel bool
		doSync      bool
	)

	cmd := &cobra.Command{
		Use:   "client <url>",
		Short: "Mirror a master's scene",
		Long: `Connect to a master and keep a replica of its scene.

Examples:
  graphsync client ws://127.0.0.1:7400 --pin 1234
  graphsync client wss://example.devtunnels.ms --pin 1234 --datachannel`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(config.RoleClient)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Transport.URL = args[0]
			}
			flags := cmd.Flags()
			if flags.Changed("pin") {
				cfg.Transport.PIN = pin
			}
			if flags.Changed("datachannel") {
				cfg.Transport.DataChannel = dataChannel
			}
			if flags.Changed("sync") {
				cfg.Protocol.DoSync = doSync
			}
			if cfg.Transport.URL == "" {
				return errMissingURL
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			printBanner()
			if err := app.NewClient(cfg).Run(ctx); err != nil {
				return err
			}
			util.LogInfo("client stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&pin, "pin", "", "PIN shown by the master")
	cmd.Flags().BoolVar(&dataChannel, "datachannel", false, "Upgrade to a WebRTC DataChannel")
	cmd.Flags().BoolVar(&doSync, "sync", false, "Ask the master to wait for this client each frame")

	return cmd
}
