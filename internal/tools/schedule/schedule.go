// Package schedule implements spec.md §4.5's scheduler tools
// (create_scheduled_job, list_scheduled_jobs, manage_job) as thin
// agent.Tool adapters over internal/scheduler.Scheduler.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/mama/internal/agent"
	"github.com/haasonsaas/mama/internal/scheduler"
)

func toolError(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

func schemaOf(required []string, props map[string]interface{}) json.RawMessage {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

// CreateScheduledJobTool implements create_scheduled_job.
type CreateScheduledJobTool struct {
	scheduler *scheduler.Scheduler
}

// NewCreateScheduledJobTool creates the create_scheduled_job tool over sched.
func NewCreateScheduledJobTool(sched *scheduler.Scheduler) *CreateScheduledJobTool {
	return &CreateScheduledJobTool{scheduler: sched}
}

func (t *CreateScheduledJobTool) Name() string { return "create_scheduled_job" }

func (t *CreateScheduledJobTool) Description() string {
	return "Create a new scheduled job that runs a task on a cron schedule."
}

func (t *CreateScheduledJobTool) Schema() json.RawMessage {
	return schemaOf([]string{"name", "schedule", "task"}, map[string]interface{}{
		"name":     stringProp("Human-readable job name."),
		"schedule": stringProp("Cron expression or natural-language schedule, e.g. \"every day at 9am\"."),
		"task":     stringProp("Task description passed to the agent session when the job runs."),
		"enabled":  map[string]interface{}{"type": "boolean", "description": "Whether the job starts enabled (default true)."},
	})
}

func (t *CreateScheduledJobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Name     string `json:"name"`
		Schedule string `json:"schedule"`
		Task     string `json:"task"`
		Enabled  *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("Invalid parameters: %v", err), nil
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	job, err := t.scheduler.CreateJob(ctx, input.Name, input.Schedule, input.Task, enabled)
	if err != nil {
		return toolError("failed to create job: %v", err), nil
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return toolError("failed to encode job: %v", err), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ListScheduledJobsTool implements list_scheduled_jobs.
type ListScheduledJobsTool struct {
	scheduler *scheduler.Scheduler
}

// NewListScheduledJobsTool creates the list_scheduled_jobs tool over sched.
func NewListScheduledJobsTool(sched *scheduler.Scheduler) *ListScheduledJobsTool {
	return &ListScheduledJobsTool{scheduler: sched}
}

func (t *ListScheduledJobsTool) Name() string { return "list_scheduled_jobs" }

func (t *ListScheduledJobsTool) Description() string {
	return "List every scheduled job and its next/last run state."
}

func (t *ListScheduledJobsTool) Schema() json.RawMessage {
	return schemaOf(nil, map[string]interface{}{})
}

func (t *ListScheduledJobsTool) Execute(ctx context.Context, _ json.RawMessage) (*agent.ToolResult, error) {
	jobs, err := t.scheduler.ListJobs(ctx)
	if err != nil {
		return toolError("failed to list jobs: %v", err), nil
	}
	payload, err := json.Marshal(jobs)
	if err != nil {
		return toolError("failed to encode jobs: %v", err), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ManageJobTool implements manage_job: enable, disable, delete, or
// immediately run a scheduled job by id.
type ManageJobTool struct {
	scheduler *scheduler.Scheduler
}

// NewManageJobTool creates the manage_job tool over sched.
func NewManageJobTool(sched *scheduler.Scheduler) *ManageJobTool {
	return &ManageJobTool{scheduler: sched}
}

func (t *ManageJobTool) Name() string { return "manage_job" }

func (t *ManageJobTool) Description() string {
	return "Enable, disable, delete, or immediately run a scheduled job by id."
}

func (t *ManageJobTool) Schema() json.RawMessage {
	return schemaOf([]string{"job_id", "action"}, map[string]interface{}{
		"job_id": stringProp("ID of the job to manage."),
		"action": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"enable", "disable", "delete", "run_now"},
			"description": "Action to perform on the job.",
		},
	})
}

func (t *ManageJobTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		JobID  string `json:"job_id"`
		Action string `json:"action"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("Invalid parameters: %v", err), nil
	}

	switch input.Action {
	case "enable":
		if err := t.scheduler.EnableJob(ctx, input.JobID); err != nil {
			return toolError("failed to enable job: %v", err), nil
		}
		return &agent.ToolResult{Content: fmt.Sprintf("job %s enabled", input.JobID)}, nil
	case "disable":
		if err := t.scheduler.DisableJob(ctx, input.JobID); err != nil {
			return toolError("failed to disable job: %v", err), nil
		}
		return &agent.ToolResult{Content: fmt.Sprintf("job %s disabled", input.JobID)}, nil
	case "delete":
		if err := t.scheduler.DeleteJob(ctx, input.JobID); err != nil {
			return toolError("failed to delete job: %v", err), nil
		}
		return &agent.ToolResult{Content: fmt.Sprintf("job %s deleted", input.JobID)}, nil
	case "run_now":
		result, err := t.scheduler.RunJobNow(ctx, input.JobID)
		if err != nil {
			return toolError("failed to run job: %v", err), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return toolError("failed to encode result: %v", err), nil
		}
		return &agent.ToolResult{Content: string(payload)}, nil
	default:
		return toolError("unsupported action %q", input.Action), nil
	}
}
