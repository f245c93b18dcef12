package deferred

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var sweepCronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextSweep resolves the next sweep timestamp from a cron expression.
func NextSweep(cronExpr string, from time.Time) (time.Time, error) {
	cronExpr = strings.Join(strings.Fields(strings.TrimSpace(cronExpr)), " ")
	if cronExpr == "" {
		return time.Time{}, fmt.Errorf("sweep cron expression is empty")
	}
	if from.IsZero() {
		from = time.Now().UTC()
	}
	spec, err := sweepCronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sweep cron expression: %w", err)
	}
	return spec.Next(from).UTC(), nil
}
