package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ScheduleParser is the injected natural-language-to-cron fallback: given a
// short instruction, it asks an LLM (task type simple_tasks, maxTokens 64)
// for a 5-field cron expression or the literal string "INVALID".
type ScheduleParser func(ctx context.Context, phrase string) (string, error)

// ParseSchedule resolves a user-supplied schedule string to a validated
// 5-field cron expression, per spec.md §4.8: accept a standard cron
// expression as-is; otherwise defer to an LLM-backed parser; if that fails
// or returns "INVALID", fall back to a deterministic phrase table. An input
// that matches none of these is an error.
func ParseSchedule(ctx context.Context, input string, llmParse ScheduleParser) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("schedule is required")
	}
	if isValidCron(trimmed) {
		return trimmed, nil
	}

	if llmParse != nil {
		if expr, err := llmParse(ctx, trimmed); err == nil {
			expr = strings.TrimSpace(expr)
			if expr != "" && !strings.EqualFold(expr, "INVALID") && isValidCron(expr) {
				return expr, nil
			}
		}
	}

	if expr, ok := deterministicPhrase(trimmed); ok {
		return expr, nil
	}

	return "", fmt.Errorf("could not parse schedule: %q", input)
}

func isValidCron(expr string) bool {
	if len(strings.Fields(expr)) != 5 {
		return false
	}
	_, err := cronParser.Parse(expr)
	return err == nil
}

var (
	everyNMinutes  = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)
	everyNHours    = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	everyDayAt     = regexp.MustCompile(`^every\s+day\s+at\s+(\d{1,2}):(\d{2})$`)
	everyWeekdayAt = regexp.MustCompile(`^every\s+(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\s+at\s+(\d{1,2}):(\d{2})$`)
	dailyAt        = regexp.MustCompile(`^daily\s+at\s+(\d{1,2}):(\d{2})$`)
)

var weekdayNumbers = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// deterministicPhrase maps common natural phrases to cron expressions, per
// spec.md §4.8's final fallback table.
func deterministicPhrase(phrase string) (string, bool) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))

	switch phrase {
	case "every minute":
		return "* * * * *", true
	case "hourly", "every hour":
		return "0 * * * *", true
	case "daily", "every day":
		return "0 0 * * *", true
	case "weekly", "every week":
		return "0 0 * * 0", true
	case "monthly", "every month":
		return "0 0 1 * *", true
	}

	if m := everyNMinutes.FindStringSubmatch(phrase); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 && n < 60 {
			return fmt.Sprintf("*/%d * * * *", n), true
		}
	}
	if m := everyNHours.FindStringSubmatch(phrase); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 && n < 24 {
			return fmt.Sprintf("0 */%d * * *", n), true
		}
	}
	if m := everyDayAt.FindStringSubmatch(phrase); m != nil {
		return cronAtTime(m[1], m[2])
	}
	if m := dailyAt.FindStringSubmatch(phrase); m != nil {
		return cronAtTime(m[1], m[2])
	}
	if m := everyWeekdayAt.FindStringSubmatch(phrase); m != nil {
		expr, ok := cronAtTime(m[2], m[3])
		if !ok {
			return "", false
		}
		fields := strings.Fields(expr)
		fields[4] = strconv.Itoa(weekdayNumbers[m[1]])
		return strings.Join(fields, " "), true
	}

	return "", false
}

func cronAtTime(hourStr, minuteStr string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return "", false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute < 0 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), true
}
