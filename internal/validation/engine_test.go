package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// A Monday at 10:00 local time, well inside usual hours.
var testNow = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func findingPresent(findings []string, rule string) bool {
	for _, f := range findings {
		if strings.HasPrefix(f, rule+":") {
			return true
		}
	}
	return false
}

func openEntry(clockIn time.Time) Entry {
	return Entry{UserID: "stu-1", SiteID: "rot-1", ClockIn: clockIn}
}

func closedEntry(clockIn time.Time, d time.Duration) Entry {
	out := clockIn.Add(d)
	return Entry{UserID: "stu-1", SiteID: "rot-1", ClockIn: clockIn, ClockOut: &out}
}

func TestEvaluateAcceptsReasonableOpenEntry(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	// 10-hour-old open shift: clock-out rules must not apply.
	result := engine.Evaluate(openEntry(testNow.Add(-10*time.Hour)), testNow)

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestEvaluateRejectsFutureClockIn(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(openEntry(testNow.Add(5*time.Minute)), testNow)

	assert.False(t, result.IsValid)
	assert.True(t, findingPresent(result.Errors, "future_clock_in"))
}

func TestEvaluateRejectsClockInOlderThan24Hours(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(openEntry(testNow.Add(-25*time.Hour)), testNow)

	assert.False(t, result.IsValid)
	assert.True(t, findingPresent(result.Errors, "reasonable_clock_in_time"))
}

func TestEvaluateRejectsClockOutBeforeClockIn(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(closedEntry(testNow.Add(-time.Hour), -time.Hour), testNow)

	assert.False(t, result.IsValid)
	assert.True(t, findingPresent(result.Errors, "clock_out_after_clock_in"))
}

func TestEvaluateShortShiftWarnsButStaysValid(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(closedEntry(testNow.Add(-time.Hour), 10*time.Minute), testNow)

	assert.True(t, result.IsValid)
	assert.True(t, findingPresent(result.Warnings, "min_shift_duration"))
	assert.False(t, findingPresent(result.Errors, "min_shift_duration"))
}

func TestEvaluateLongShiftWarns(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(closedEntry(testNow.Add(-18*time.Hour), 17*time.Hour), testNow)

	assert.True(t, result.IsValid)
	assert.True(t, findingPresent(result.Warnings, "max_shift_duration"))
}

func TestEvaluateWeekendAndUnusualHoursAreInfo(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	// Saturday 23:30.
	saturdayNight := time.Date(2025, 3, 8, 23, 30, 0, 0, time.UTC)
	result := engine.Evaluate(openEntry(saturdayNight), saturdayNight.Add(time.Minute))

	assert.True(t, result.IsValid)
	assert.True(t, findingPresent(result.Info, "weekend_clock_in"))
	assert.True(t, findingPresent(result.Info, "unusual_hours"))
}

func TestEvaluateRequiresIdentifiers(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	result := engine.Evaluate(Entry{ClockIn: testNow.Add(-time.Hour)}, testNow)

	assert.False(t, result.IsValid)
	assert.True(t, findingPresent(result.Errors, "site_required"))
	assert.True(t, findingPresent(result.Errors, "user_required"))
}

func TestEvaluateNotesRules(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	long := strings.Repeat("x", 501)
	entry := openEntry(testNow.Add(-time.Hour))
	entry.Notes = &long
	result := engine.Evaluate(entry, testNow)
	assert.False(t, result.IsValid)
	assert.True(t, findingPresent(result.Errors, "notes_length"))

	// Closing without notes is recommended-against, never blocking.
	closed := closedEntry(testNow.Add(-2*time.Hour), time.Hour)
	result = engine.Evaluate(closed, testNow)
	assert.True(t, result.IsValid)
	assert.True(t, findingPresent(result.Info, "closing_notes_missing"))
}

func TestEvaluateAllRulesRunAfterFailure(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	// Future clock-in AND missing site: both findings must surface.
	entry := Entry{UserID: "stu-1", ClockIn: testNow.Add(time.Hour)}
	result := engine.Evaluate(entry, testNow)

	assert.True(t, findingPresent(result.Errors, "future_clock_in"))
	assert.True(t, findingPresent(result.Errors, "site_required"))
}

func TestEvaluatePanickingRuleBecomesErrorFinding(t *testing.T) {
	engine := NewEngine(zap.NewNop())
	engine.AddRule(Rule{
		Name:     "exploding_rule",
		Severity: SeverityInfo,
		Message:  "never reached",
		Check: func(Entry, Context) bool {
			panic("predicate bug")
		},
	})

	result := engine.Evaluate(openEntry(testNow.Add(-time.Hour)), testNow)

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "exploding_rule: rule evaluation failed")
}

func TestEvaluateBatchFlagsNearDuplicates(t *testing.T) {
	engine := NewEngine(zap.NewNop())

	base := testNow.Add(-2 * time.Hour)
	entries := []Entry{
		{UserID: "stu-1", SiteID: "rot-1", ClockIn: base},
		{UserID: "stu-1", SiteID: "rot-1", ClockIn: base.Add(30 * time.Second)},
		{UserID: "stu-1", SiteID: "rot-1", ClockIn: base.Add(5 * time.Minute)},
		{UserID: "stu-2", SiteID: "rot-1", ClockIn: base.Add(10 * time.Second)},
	}

	results, duplicates := engine.EvaluateBatch(entries, testNow)

	require.Len(t, results, 4)
	require.Len(t, duplicates, 1)
	assert.Equal(t, DuplicatePair{First: 0, Second: 1}, duplicates[0])
}
