package main

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/nutsub/pkg/app"
	"github.com/spf13/cobra"
)

func redeemCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redeem",
		Short: "Redemption workers",
	}

	var (
		timeout time.Duration
		force   bool
	)
	once := &cobra.Command{
		Use:   "once",
		Short: "Run one pass of every configured redemption worker and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			node, err := app.Load(flags.params())
			if err != nil {
				return err
			}
			defer node.Close()

			if force {
				node.AutoRedeem.Store(true)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ran, err := node.RunOnce(ctx)
			if ran == 0 {
				return fmt.Errorf("no redemption worker configured")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ran %d worker(s)\n", ran)
			return nil
		},
	}
	once.Flags().BoolVar(&force, "force", false, "Redeem even when auto_redeem is disabled")
	once.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Abort the pass after this duration")

	cmd.AddCommand(once)
	return cmd
}
