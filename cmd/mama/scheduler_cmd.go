package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// buildSchedulerCmd creates the "scheduler" command group (list|create|
// enable|disable|delete|run) for managing cron jobs from the CLI, per
// spec.md §6, grounded on the teacher's nested command-group idiom
// (buildServiceCmd + per-action subcommand builders).
func buildSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Manage mama's scheduled jobs",
	}
	cmd.AddCommand(
		buildSchedulerListCmd(),
		buildSchedulerCreateCmd(),
		buildSchedulerEnableCmd(),
		buildSchedulerDisableCmd(),
		buildSchedulerDeleteCmd(),
		buildSchedulerRunCmd(),
	)
	return cmd
}

func buildSchedulerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.scheduler.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no scheduled jobs")
				return nil
			}
			for _, job := range jobs {
				status := "enabled"
				if !job.Enabled {
					status = "disabled"
				}
				fmt.Printf("%s  %-20s  %-20s  %s  (runs: %d)\n", job.ID, job.Name, job.Schedule, status, job.RunCount)
			}
			return nil
		},
	}
}

func buildSchedulerCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create <schedule> <task>",
		Short: "Create a new scheduled job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			jobName := name
			if jobName == "" {
				jobName = args[1]
			}
			job, err := a.scheduler.CreateJob(cmd.Context(), jobName, args[0], args[1], true)
			if err != nil {
				return err
			}
			fmt.Printf("created job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Human-readable job name (defaults to the task text)")
	return cmd
}

func buildSchedulerEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.scheduler.EnableJob(cmd.Context(), args[0])
		},
	}
}

func buildSchedulerDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <job-id>",
		Short: "Disable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.scheduler.DisableJob(cmd.Context(), args[0])
		},
	}
}

func buildSchedulerDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.scheduler.DeleteJob(cmd.Context(), args[0])
		},
	}
}

func buildSchedulerRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a scheduled job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.scheduler.RunJobNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			payload, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(payload))
			return nil
		},
	}
}
