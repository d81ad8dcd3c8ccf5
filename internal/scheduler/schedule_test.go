package scheduler

import (
	"context"
	"testing"
)

func TestParseScheduleAcceptsCronAsIs(t *testing.T) {
	expr, err := ParseSchedule(context.Background(), "0 */5 * * *", nil)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if expr != "0 */5 * * *" {
		t.Fatalf("expected cron expression unchanged, got %q", expr)
	}
}

func TestParseScheduleDeterministicPhrases(t *testing.T) {
	cases := map[string]string{
		"every minute":          "* * * * *",
		"hourly":                "0 * * * *",
		"daily":                 "0 0 * * *",
		"every 15 minutes":      "*/15 * * * *",
		"every 2 hours":         "0 */2 * * *",
		"every day at 09:30":    "30 9 * * *",
		"daily at 17:00":        "0 17 * * *",
		"every monday at 08:00": "0 8 * * 1",
	}
	for phrase, want := range cases {
		got, err := ParseSchedule(context.Background(), phrase, nil)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error = %v", phrase, err)
		}
		if got != want {
			t.Fatalf("ParseSchedule(%q) = %q, want %q", phrase, got, want)
		}
	}
}

func TestParseScheduleFallsBackToLLM(t *testing.T) {
	called := false
	llm := func(ctx context.Context, phrase string) (string, error) {
		called = true
		return "0 6 * * *", nil
	}
	got, err := ParseSchedule(context.Background(), "every morning at sunrise", llm)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if !called {
		t.Fatalf("expected LLM parser to be invoked")
	}
	if got != "0 6 * * *" {
		t.Fatalf("expected LLM expression, got %q", got)
	}
}

func TestParseScheduleLLMInvalidFallsThroughToTable(t *testing.T) {
	llm := func(ctx context.Context, phrase string) (string, error) {
		return "INVALID", nil
	}
	got, err := ParseSchedule(context.Background(), "hourly", llm)
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if got != "0 * * * *" {
		t.Fatalf("expected phrase-table fallback, got %q", got)
	}
}

func TestParseScheduleRejectsUnparseable(t *testing.T) {
	_, err := ParseSchedule(context.Background(), "whenever the mood strikes", nil)
	if err == nil {
		t.Fatalf("expected error for unparseable schedule")
	}
}
