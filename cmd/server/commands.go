package main

import (
	"context"
	"fmt"
	"time"

	"membership-api/internal/database"

	"github.com/spf13/cobra"
)

var reportBot string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Send the daily report to the operator now",
	Long: `Build the daily report for every tenant and send it to ADMIN_USER_ID.

With --print the report is written to stdout instead of Telegram.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := bootstrap()
		defer database.CloseDatabase()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		printOnly, _ := cmd.Flags().GetBool("print")
		if !printOnly {
			return a.reports.SendDailyReports(ctx)
		}

		for botName, gw := range a.gateways {
			if reportBot != "" && botName != reportBot {
				continue
			}
			report, err := a.reports.DailyReport(ctx, gw)
			if err != nil {
				return fmt.Errorf("%s: %w", botName, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), report)
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate members whose access has expired",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := bootstrap()
		defer database.CloseDatabase()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		swept, err := a.reports.SweepExpired(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d members\n", swept)
		return err
	},
}

func init() {
	reportCmd.Flags().Bool("print", false, "print reports instead of sending them")
	reportCmd.Flags().StringVar(&reportBot, "bot", "", "only print the report for this bot")
}
