// Package validation evaluates business rules over candidate time entries.
// Rules are plain data values held in insertion order; every rule runs on
// every evaluation so callers see the complete set of findings in one pass.
package validation

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Severity grades a rule. Only error-severity failures make an entry
// invalid; warnings and info are surfaced but never block.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Entry is a candidate time entry under evaluation. ClockOut is nil for an
// entry that is still open.
type Entry struct {
	UserID   string
	SiteID   string
	ClockIn  time.Time
	ClockOut *time.Time
	Notes    *string
}

// Context carries evaluation-time inputs shared by all rules.
type Context struct {
	Now time.Time
}

// Rule is a tagged predicate. Check returns true when the entry passes.
type Rule struct {
	Name     string
	Severity Severity
	Message  string
	Check    func(Entry, Context) bool
}

// Result is the outcome of evaluating one entry. An entry is accepted only
// when Errors is empty.
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Info     []string `json:"info"`
}

// DuplicatePair flags two batch entries that look like the same submission.
type DuplicatePair struct {
	First  int `json:"first"`
	Second int `json:"second"`
}

// Engine holds the ordered rule list. The list is fixed after construction,
// so concurrent evaluation is safe.
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

const (
	maxClockInAge      = 24 * time.Hour
	maxShiftDuration   = 16 * time.Hour
	minShiftDuration   = 15 * time.Minute
	earliestUsualHour  = 6
	latestUsualHour    = 22
	duplicateWindowSec = 60
)

// NewEngine builds an engine with the standard attendance rule set.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}

	e.AddRule(Rule{
		Name:     "future_clock_in",
		Severity: SeverityError,
		Message:  "clock-in time cannot be in the future",
		Check: func(entry Entry, ctx Context) bool {
			return !entry.ClockIn.After(ctx.Now)
		},
	})
	e.AddRule(Rule{
		Name:     "reasonable_clock_in_time",
		Severity: SeverityError,
		Message:  "clock-in time cannot be more than 24 hours in the past",
		Check: func(entry Entry, ctx Context) bool {
			return ctx.Now.Sub(entry.ClockIn) <= maxClockInAge
		},
	})
	e.AddRule(Rule{
		Name:     "clock_out_after_clock_in",
		Severity: SeverityError,
		Message:  "clock-out must be after clock-in",
		Check: func(entry Entry, _ Context) bool {
			if entry.ClockOut == nil {
				return true
			}
			return entry.ClockOut.After(entry.ClockIn)
		},
	})
	e.AddRule(Rule{
		Name:     "max_shift_duration",
		Severity: SeverityWarning,
		Message:  "shift exceeds 16 hours",
		Check: func(entry Entry, _ Context) bool {
			if entry.ClockOut == nil {
				return true
			}
			return entry.ClockOut.Sub(entry.ClockIn) <= maxShiftDuration
		},
	})
	e.AddRule(Rule{
		Name:     "min_shift_duration",
		Severity: SeverityWarning,
		Message:  "shift is shorter than 15 minutes",
		Check: func(entry Entry, _ Context) bool {
			if entry.ClockOut == nil {
				return true
			}
			return entry.ClockOut.Sub(entry.ClockIn) >= minShiftDuration
		},
	})
	e.AddRule(Rule{
		Name:     "weekend_clock_in",
		Severity: SeverityInfo,
		Message:  "clock-in falls on a weekend",
		Check: func(entry Entry, _ Context) bool {
			day := entry.ClockIn.Weekday()
			return day != time.Saturday && day != time.Sunday
		},
	})
	e.AddRule(Rule{
		Name:     "unusual_hours",
		Severity: SeverityInfo,
		Message:  "clock-in is outside the 06:00-22:00 window",
		// Timestamps are normalized to UTC upstream and records carry no
		// timezone, so the window is a UTC window.
		Check: func(entry Entry, _ Context) bool {
			hour := entry.ClockIn.Hour()
			return hour >= earliestUsualHour && hour < latestUsualHour
		},
	})
	e.AddRule(Rule{
		Name:     "site_required",
		Severity: SeverityError,
		Message:  "rotation/site identifier is required",
		Check: func(entry Entry, _ Context) bool {
			return entry.SiteID != ""
		},
	})
	e.AddRule(Rule{
		Name:     "user_required",
		Severity: SeverityError,
		Message:  "user identifier is required",
		Check: func(entry Entry, _ Context) bool {
			return entry.UserID != ""
		},
	})
	e.AddRule(Rule{
		Name:     "notes_length",
		Severity: SeverityError,
		Message:  "notes cannot exceed 500 characters",
		Check: func(entry Entry, _ Context) bool {
			return entry.Notes == nil || len(*entry.Notes) <= 500
		},
	})
	e.AddRule(Rule{
		Name:     "closing_notes_missing",
		Severity: SeverityInfo,
		Message:  "adding notes when closing a shift is recommended",
		Check: func(entry Entry, _ Context) bool {
			if entry.ClockOut == nil {
				return true
			}
			return entry.Notes != nil && *entry.Notes != ""
		},
	})

	return e
}

// AddRule appends a rule; evaluation order is insertion order.
func (e *Engine) AddRule(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate runs every rule against the entry. A panicking predicate is
// captured and reported as an error finding naming the rule; Evaluate never
// panics outward.
func (e *Engine) Evaluate(entry Entry, now time.Time) Result {
	ctx := Context{Now: now}
	result := Result{IsValid: true, Errors: []string{}, Warnings: []string{}, Info: []string{}}

	for _, rule := range e.rules {
		passed, failure := e.runRule(rule, entry, ctx)
		if failure != "" {
			result.IsValid = false
			result.Errors = append(result.Errors, failure)
			continue
		}
		if passed {
			continue
		}
		finding := fmt.Sprintf("%s: %s", rule.Name, rule.Message)
		switch rule.Severity {
		case SeverityError:
			result.IsValid = false
			result.Errors = append(result.Errors, finding)
		case SeverityWarning:
			result.Warnings = append(result.Warnings, finding)
		case SeverityInfo:
			result.Info = append(result.Info, finding)
		}
	}

	return result
}

// runRule isolates a single predicate so a panic inside it is converted to
// an error finding instead of unwinding the batch.
func (e *Engine) runRule(rule Rule, entry Entry, ctx Context) (passed bool, failure string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validation rule panicked",
				zap.String("rule", rule.Name),
				zap.Any("panic", r))
			failure = fmt.Sprintf("%s: rule evaluation failed", rule.Name)
		}
	}()
	return rule.Check(entry, ctx), ""
}

// EvaluateBatch evaluates each entry independently and flags probable
// duplicates: two entries with the same user, same site, and clock-ins
// within 60 seconds of each other. Duplicates are informational only.
func (e *Engine) EvaluateBatch(entries []Entry, now time.Time) ([]Result, []DuplicatePair) {
	results := make([]Result, len(entries))
	for i, entry := range entries {
		results[i] = e.Evaluate(entry, now)
	}

	duplicates := []DuplicatePair{}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[i].UserID != entries[j].UserID || entries[i].SiteID != entries[j].SiteID {
				continue
			}
			gap := entries[i].ClockIn.Sub(entries[j].ClockIn)
			if gap < 0 {
				gap = -gap
			}
			if gap <= duplicateWindowSec*time.Second {
				duplicates = append(duplicates, DuplicatePair{First: i, Second: j})
			}
		}
	}

	return results, duplicates
}
