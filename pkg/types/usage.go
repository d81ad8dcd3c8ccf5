package types

import "time"

// LLMUsageRecord is an immutable billing/trace entry written after every
// completed router call.
type LLMUsageRecord struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CostUSD      float64   `json:"costUsd"`
	TaskType     string    `json:"taskType"`
	LatencyMs    int64     `json:"latencyMs"`
}
