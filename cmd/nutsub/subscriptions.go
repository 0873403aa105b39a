package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/flemzord/nutsub/internal/core"
	"github.com/flemzord/nutsub/internal/ledger"
	"github.com/flemzord/nutsub/internal/subscription"
	"github.com/flemzord/nutsub/pkg/app"
	"github.com/spf13/cobra"
)

// withLedger loads a node without starting it and hands its subscription
// ledger to fn.
func withLedger(flags *globalFlags, fn func(*subscription.Ledger) error) error {
	node, err := app.Load(flags.params())
	if err != nil {
		return err
	}
	defer node.Close()

	store, err := core.Service[ledger.Store](node.Context, core.ServiceStore)
	if err != nil {
		return err
	}
	return fn(subscription.NewLedger(store, subscription.WithLogger(node.Logger)))
}

func subscriptionsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Inspect and manage subscriptions",
	}

	var creator string
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(flags, func(l *subscription.Ledger) error {
				var (
					subs []ledger.Subscription
					err  error
				)
				if creator != "" {
					subs, err = l.ListByCreator(cmd.Context(), creator)
				} else {
					subs, err = l.List(cmd.Context())
				}
				if err != nil {
					return err
				}
				return printSubscriptions(cmd.OutOrStdout(), subs)
			})
		},
	}
	list.Flags().StringVar(&creator, "creator", "", "Only list subscriptions to this creator npub")

	cancel := &cobra.Command{
		Use:   "cancel <creator-npub>",
		Short: "Cancel every active subscription to a creator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(l *subscription.Ledger) error {
				res, err := l.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d subscription(s), removed %d future token(s)\n",
					len(res.Cancelled), len(res.DeletedTokenIDs))
				return nil
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a subscription and its locked tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(l *subscription.Ledger) error {
				if err := l.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(list, cancel, del)
	return cmd
}

func printSubscriptions(w io.Writer, subs []ledger.Subscription) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATOR\tTIER\tAMOUNT\tFREQUENCY\tPAID\tSTATUS\tSTARTED")
	for _, s := range subs {
		paid := 0
		for _, iv := range s.Intervals {
			if iv.Redeemed {
				paid++
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d %s\t%s\t%d/%d\t%s\t%s\n",
			s.ID, s.CreatorNpub, s.TierID, s.AmountPerInterval, s.Unit, s.Frequency,
			paid, len(s.Intervals), s.Status, s.StartDate.Format(time.DateOnly))
	}
	return tw.Flush()
}
