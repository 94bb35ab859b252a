package store

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcglyph/nightpilot/pkg/nightpilot/model"
)

// cronParser is the canonical parser per SPEC_FULL §3 Open Question (a):
// standard 5-field (minute hour dom month dow) plus descriptors (@daily,
// @hourly, @every 5m, ...). A leading seconds field is rejected explicitly
// so a 6-field expression never gets silently reinterpreted.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCron parses expr and returns a *model.Error(KindValidation) when
// it is malformed or uses the rejected 6-field (seconds-first) form.
func ValidateCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, model.New(model.KindValidation, "cron expression is required")
	}
	if !strings.HasPrefix(expr, "@") {
		fields := strings.Fields(expr)
		if len(fields) == 6 {
			return nil, model.New(model.KindValidation,
				"cron expression has 6 fields; the canonical form is 5 fields (minute hour day-of-month month day-of-week), a leading seconds field is not accepted")
		}
		if len(fields) != 5 {
			return nil, model.New(model.KindValidation,
				"cron expression must have exactly 5 fields, got %d", len(fields))
		}
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, model.Wrap(model.KindValidation, err, "invalid cron expression %q", expr)
	}
	return sched, nil
}

// NextRun computes the next fire instant strictly after `from`.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ValidateCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}
