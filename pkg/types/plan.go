package types

// PlanStep is one node of an agent-generated execution plan.
type PlanStep struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Tool        string          `json:"tool"`
	Params      map[string]any  `json:"params,omitempty"`
	DependsOn   []string        `json:"dependsOn,omitempty"`
	CanFail     bool            `json:"canFail"`
	Fallback    string          `json:"fallback,omitempty"`
}

// Plan is a parsed, normalized multi-step plan ready for execution.
type Plan struct {
	Goal              string     `json:"goal"`
	Steps             []PlanStep `json:"steps"`
	HasSideEffects    bool       `json:"hasSideEffects"`
	EstimatedDuration string     `json:"estimatedDuration,omitempty"`
	Risks             []string   `json:"risks,omitempty"`
}

// StepStatus is the outcome of executing a single PlanStep.
type StepStatus string

const (
	StepSuccess         StepStatus = "success"
	StepFallback        StepStatus = "fallback"
	StepFailedAcceptable StepStatus = "failed-acceptable"
	StepFailedCritical  StepStatus = "failed-critical"
	StepSkipped         StepStatus = "skipped"
)

// StepResult is the recorded outcome of one executed (or skipped) PlanStep.
type StepResult struct {
	StepID          string     `json:"stepId"`
	Status          StepStatus `json:"status"`
	Output          string     `json:"output,omitempty"`
	Error           string     `json:"error,omitempty"`
	PercentComplete int        `json:"percentComplete"`
}

// PlanExecution is the result of running a Plan through the executor.
type PlanExecution struct {
	Aborted        bool         `json:"aborted"`
	CompletedSteps int          `json:"completedSteps"`
	TotalSteps     int          `json:"totalSteps"`
	Results        []StepResult `json:"results"`
}
