// Package cost is the LLM usage/cost tracker described in spec.md §4.6.
// Grounded directly on internal/usage/usage.go's Usage/Cost/Record/Tracker
// shape, adapted to persist through internal/store as an append-only log
// (rather than the teacher's in-memory/pruned rollup) and to compute the
// exact today/week/month rollups spec.md specifies.
package cost

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/mama/internal/store"
	"github.com/haasonsaas/mama/pkg/types"
)

// Usage is what a single completion call reports to the tracker.
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TaskType     string
	LatencyMs    int64
}

// Pricing is the per-million-token input/output rate for a model. Local
// models default to zero.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

func (p Pricing) estimate(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMillion/1_000_000 + float64(outputTokens)*p.OutputPerMillion/1_000_000
}

// Tracker is an immutable append log of LLM usage records, backed by the
// durable store, with a model-keyed pricing table for cost estimation.
type Tracker struct {
	db      *store.Store
	pricing map[string]Pricing // keyed by model
	now     func() time.Time
}

// New constructs a Tracker. pricing is keyed by model name; a model absent
// from the table is treated as free (local models).
func New(db *store.Store, pricing map[string]Pricing) *Tracker {
	return &Tracker{db: db, pricing: pricing, now: time.Now}
}

// Record appends a usage entry, estimating cost from the pricing table.
func (t *Tracker) Record(ctx context.Context, u Usage) error {
	pricing := t.pricing[u.Model]
	entry := types.LLMUsageRecord{
		ID:           uuid.NewString(),
		Timestamp:    t.now().UTC(),
		Provider:     u.Provider,
		Model:        u.Model,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      pricing.estimate(u.InputTokens, u.OutputTokens),
		TaskType:     u.TaskType,
		LatencyMs:    u.LatencyMs,
	}
	_, err := t.db.Run(ctx, `
		INSERT INTO llm_usage_records (id, timestamp, provider, model, input_tokens, output_tokens, cost_usd, task_type, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339Nano), entry.Provider, entry.Model,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.TaskType, entry.LatencyMs)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ModelBreakdown is a per-model cost rollup within a period.
type ModelBreakdown struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Calls        int
}

// Summary aggregates usage over a period.
type Summary struct {
	TotalCostUSD   float64
	TotalCalls     int
	ByModel        []ModelBreakdown
	AvgCostPerDay  float64
}

func (t *Tracker) summarize(ctx context.Context, since time.Time) (Summary, error) {
	rows, err := t.recordsSince(ctx, since)
	if err != nil {
		return Summary{}, err
	}
	byModel := make(map[string]*ModelBreakdown)
	var summary Summary
	var earliest time.Time
	for _, r := range rows {
		summary.TotalCostUSD += r.CostUSD
		summary.TotalCalls++
		if earliest.IsZero() || r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		b, ok := byModel[r.Model]
		if !ok {
			b = &ModelBreakdown{Model: r.Model}
			byModel[r.Model] = b
		}
		b.InputTokens += r.InputTokens
		b.OutputTokens += r.OutputTokens
		b.CostUSD += r.CostUSD
		b.Calls++
	}
	for _, b := range byModel {
		summary.ByModel = append(summary.ByModel, *b)
	}
	spanDays := 1.0
	if !earliest.IsZero() {
		spanDays = math.Ceil(t.now().Sub(earliest).Hours() / 24)
		if spanDays < 1 {
			spanDays = 1
		}
	}
	summary.AvgCostPerDay = summary.TotalCostUSD / spanDays
	return summary, nil
}

func (t *Tracker) recordsSince(ctx context.Context, since time.Time) ([]types.LLMUsageRecord, error) {
	var out []types.LLMUsageRecord
	err := t.db.All(ctx, `
		SELECT id, timestamp, provider, model, input_tokens, output_tokens, cost_usd, task_type, latency_ms
		FROM llm_usage_records WHERE timestamp >= ? ORDER BY timestamp DESC`,
		func(rows *sql.Rows) error {
			var r types.LLMUsageRecord
			var ts string
			if err := rows.Scan(&r.ID, &ts, &r.Provider, &r.Model, &r.InputTokens, &r.OutputTokens, &r.CostUSD, &r.TaskType, &r.LatencyMs); err != nil {
				return err
			}
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return err
			}
			r.Timestamp = parsed
			out = append(out, r)
			return nil
		}, since.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	return out, nil
}

// Today returns the cost summary for the current UTC calendar day.
func (t *Tracker) Today(ctx context.Context) (Summary, error) {
	now := t.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return t.summarize(ctx, start)
}

// ThisWeek returns the cost summary since the most recent Sunday.
func (t *Tracker) ThisWeek(ctx context.Context) (Summary, error) {
	now := t.now().UTC()
	daysSinceSunday := int(now.Weekday())
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysSinceSunday)
	return t.summarize(ctx, start)
}

// ThisMonth returns the cost summary since the first of the current month.
func (t *Tracker) ThisMonth(ctx context.Context) (Summary, error) {
	now := t.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return t.summarize(ctx, start)
}

// All returns the cost summary across every recorded usage event.
func (t *Tracker) All(ctx context.Context) (Summary, error) {
	return t.summarize(ctx, time.Time{})
}
