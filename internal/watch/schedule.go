package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// minPollInterval floors plain-duration schedules so a typo like "5ms"
// cannot hammer an upstream.
const minPollInterval = 5 * time.Second

// ParseSchedule accepts either a Go duration ("90s", "5m") or a
// five-field cron expression ("*/10 * * * *") and returns the poll
// schedule for a watcher.
func ParseSchedule(s string) (cron.Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < minPollInterval {
			d = minPollInterval
		}
		return cron.Every(d), nil
	}
	sched, err := cron.ParseStandard(s)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither a duration nor a cron expression: %w", s, err)
	}
	return sched, nil
}
