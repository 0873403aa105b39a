// Package main is the entry point for the nutsub CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/flemzord/nutsub/internal/config"
	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/pkg/app"
	"github.com/spf13/cobra"

	_ "github.com/flemzord/nutsub/internal/gateway"
	_ "github.com/flemzord/nutsub/internal/telemetry"
	_ "github.com/flemzord/nutsub/modules/keys/p2pk"
	_ "github.com/flemzord/nutsub/modules/ledger/sqlite"
	_ "github.com/flemzord/nutsub/modules/messenger/websocket"
	_ "github.com/flemzord/nutsub/modules/redeem/worker"
	_ "github.com/flemzord/nutsub/modules/wallet/bridge"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that loads a node.
type globalFlags struct {
	configPath string
	dataDir    string
	verbose    bool
}

func (f *globalFlags) params() app.RunParams {
	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	return app.RunParams{
		ConfigPath: f.configPath,
		DataDir:    f.dataDir,
		Version:    version,
		Commit:     commit,
		Date:       date,
		LogLevel:   level,
	}
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "nutsub",
		Short:         "Cashu subscription ledger and timelocked token redeemer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "Persistent data directory")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(flags),
		subscriptionsCmd(flags),
		redeemCmd(flags),
		serviceCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nutsub %s (commit: %s, built: %s)\n", version, commit, date)
			namespaces := core.Namespaces()
			if len(namespaces) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, ns := range namespaces {
				fmt.Fprintf(out, "  %s\n", ns)
				for _, mod := range core.GetModulesByNamespace(ns) {
					fmt.Fprintf(out, "    %s\n", mod.ID)
				}
			}
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start nutsub with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), flags.params())
		},
	}
}

func configCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := flags.params()
			if len(args) == 1 {
				params.ConfigPath = args[0]
			}
			node, err := app.Load(params)
			if err != nil {
				return err
			}
			defer node.Close()

			ids := config.Resolve(node.Config)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
