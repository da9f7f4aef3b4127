package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/app"
	"github.com/mmeshcher/keyloyalty/internal/config"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/validation"
)

// withApp собирает компоненты по переменным окружения и вызывает fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a)
}

func pendingCmd() *cobra.Command {
	var (
		olderThan time.Duration
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List redemptions still awaiting confirmation or rollback",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				pending, err := a.Service.PendingRedemptions(ctx, olderThan)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), pending)
				}
				return writePending(cmd.OutOrStdout(), pending)
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 15*time.Minute, "Only redemptions created before now minus this duration")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func confirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm [transaction-id]",
		Short: "Confirm a pending redemption",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := a.Service.Confirm(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d points, %s)\n", p.TransactionID, p.Status, p.PointsUsed, p.TransactionType)
				return nil
			})
		},
	}
}

func rollbackCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "rollback [transaction-id]",
		Short: "Roll back a pending redemption and restore its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Service.Rollback(ctx, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ROLLED_BACK, %s now has %d points (%s)\n", args[0], c.UserID, c.TotalPoints, c.Tier)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "rolled back by operator", "Reason recorded on the tracker")

	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Run one expiry sweep now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats := a.Expiry.Sweep(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "expired: %d customers, %d points; reminders: %d; failures: %d\n",
					stats.Expired, stats.PointsExpired, stats.Reminded, stats.Failed)
				return nil
			})
		},
	}
}

func pruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete processed-transaction marks older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Service.PruneProcessed(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d rows\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 720*time.Hour, "Retention; must exceed POLL_WINDOW")

	return cmd
}

func linkCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "link-account [account-number] [user-id]",
		Short: "Link a bank account to a loyalty user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := validation.NormalizeIdentifier(args[0])
			if !validation.IsValidAccountNumber(account) {
				return fmt.Errorf("invalid account number %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Repo.LinkAccount(ctx, account, args[1], username); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s linked to %s\n", account, args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username for lookups by name")

	return cmd
}

func writePending(w io.Writer, pending []model.PendingRedemption) error {
	if len(pending) == 0 {
		_, err := fmt.Fprintln(w, "no pending redemptions")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSACTION\tUSER\tACCOUNT\tTYPE\tPOINTS\tAMOUNT\tCREATED")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			p.TransactionID, p.UserID, p.AccountNumber, p.TransactionType,
			p.PointsUsed, p.AmountUsed.StringFixed(2), p.CreatedDate.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
