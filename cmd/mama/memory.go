package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/mama/internal/memory/consolidated"
	"github.com/haasonsaas/mama/internal/memory/consolidation"
)

// buildMemoryCmd creates the "memory" command group (search|list|forget|
// consolidate|stats) for inspecting and managing consolidated memory from
// the CLI, per spec.md §6, grounded on the teacher's nested command-group
// idiom.
func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage mama's consolidated memory",
	}
	cmd.AddCommand(
		buildMemorySearchCmd(),
		buildMemoryListCmd(),
		buildMemoryForgetCmd(),
		buildMemoryConsolidateCmd(),
		buildMemoryStatsCmd(),
	)
	return cmd
}

func buildMemorySearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search consolidated memory by relevance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.memories.Search(cmd.Context(), args[0], consolidated.SearchOptions{TopK: topK})
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no matching memories")
				return nil
			}
			for _, m := range results {
				fmt.Printf("%s [%s] (%.2f confidence) %s\n", m.ID, m.Category, m.Confidence, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top", 10, "Maximum number of results to return")
	return cmd
}

func buildMemoryListCmd() *cobra.Command {
	var minConfidence float64
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active consolidated memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.memories.GetActive(cmd.Context(), minConfidence)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("no active memories")
				return nil
			}
			for _, m := range results {
				fmt.Printf("%s [%s] (%.2f confidence) %s\n", m.ID, m.Category, m.Confidence, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Minimum confidence to include")
	return cmd
}

func buildMemoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <memory-id>",
		Short: "Deactivate a consolidated memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.memories.Deactivate(cmd.Context(), args[0])
		},
	}
}

func buildMemoryConsolidateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run the memory consolidation engine immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.consolidate.Run(cmd.Context(), consolidation.Options{
				Force:          force,
				RunDecay:       true,
				RegenerateSoul: true,
			}, 5)
			if err != nil {
				return err
			}
			if report.Skipped {
				fmt.Printf("skipped: %s\n", report.SkipReason)
				return nil
			}
			fmt.Printf("consolidation complete: %d memories created, %d reinforced\n", report.NewCount, report.ReinforceCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run even if fewer than the minimum pending episodes are available")
	return cmd
}

func buildMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pending, err := a.episodes.PendingCount(cmd.Context())
			if err != nil {
				return err
			}
			active, err := a.memories.GetActive(cmd.Context(), 0)
			if err != nil {
				return err
			}
			fmt.Printf("pending episodes: %d\n", pending)
			fmt.Printf("active consolidated memories: %d\n", len(active))
			return nil
		},
	}
}
