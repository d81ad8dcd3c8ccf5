package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mama/internal/llm/cost"
)

// buildCostCmd creates the "cost" command, reporting LLM spend for a
// period, per spec.md §6, grounded on the teacher's flag-driven report
// commands (e.g. buildServiceStatusCmd's --config flag pattern).
func buildCostCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show LLM API spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var summary cost.Summary
			switch period {
			case "today":
				summary, err = a.costTrack.Today(cmd.Context())
			case "week":
				summary, err = a.costTrack.ThisWeek(cmd.Context())
			case "month":
				summary, err = a.costTrack.ThisMonth(cmd.Context())
			case "all":
				summary, err = a.costTrack.All(cmd.Context())
			default:
				return fmt.Errorf("unknown --period %q (want today, week, month, or all)", period)
			}
			if err != nil {
				return err
			}

			fmt.Printf("period: %s\n", period)
			fmt.Printf("total calls: %d\n", summary.TotalCalls)
			fmt.Printf("total cost: $%.4f\n", summary.TotalCostUSD)
			fmt.Printf("avg cost/day: $%.4f\n", summary.AvgCostPerDay)
			for _, b := range summary.ByModel {
				fmt.Printf("  %-30s %d calls  $%.4f\n", b.Model, b.Calls, b.CostUSD)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "today", "Reporting period: today, week, month, or all")
	return cmd
}
