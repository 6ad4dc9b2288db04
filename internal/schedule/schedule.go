package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Spec is a parsed cron expression.
type Spec struct {
	Expr     string
	schedule cron.Schedule
}

// ParseCron parses a cron expression (standard five-field form, with an
// optional leading seconds field and @-descriptors).
func ParseCron(expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression is required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Spec{Expr: expr, schedule: sched}, nil
}

// Daily returns a spec that fires once a day at the given hour and minute.
func Daily(hour, minute int) (Spec, error) {
	if hour < 0 || hour > 23 {
		return Spec{}, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("minute out of range: %d", minute)
	}
	return ParseCron(fmt.Sprintf("%d %d * * *", minute, hour))
}

// Hourly returns a spec that fires every hour at the given minute.
func Hourly(minute int) (Spec, error) {
	if minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("minute out of range: %d", minute)
	}
	return ParseCron(fmt.Sprintf("%d * * * *", minute))
}

// Next returns the next fire time strictly after now.
func (s Spec) Next(now time.Time) time.Time {
	if s.schedule == nil {
		return time.Time{}
	}
	return s.schedule.Next(now)
}
