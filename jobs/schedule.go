package jobs

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser accepts 5 or 6 field expressions (leading seconds optional) and
// descriptors such as @hourly or @every 10m.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month |
	cron.Dow | cron.Descriptor)

type ScheduleSpec struct {
	Expression string
	Timezone   string
}

func (s ScheduleSpec) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %s - %v", ErrInvalidSchedule, s.Timezone, err)
	}

	return loc, nil
}

func (s ScheduleSpec) Parse() (cron.Schedule, error) {
	if s.Expression == "" {
		return nil, fmt.Errorf("%w: missing cron expression", ErrInvalidSchedule)
	}

	sch, err := CronParser.Parse(s.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %s - %v", ErrInvalidSchedule, s.Expression, err)
	}

	return sch, nil
}

// Next returns the first tick after now, evaluated in the schedule's timezone.
func (s ScheduleSpec) Next(now time.Time) (time.Time, error) {
	sch, err := s.Parse()
	if err != nil {
		return time.Time{}, err
	}

	loc, err := s.Location()
	if err != nil {
		return time.Time{}, err
	}

	return sch.Next(now.In(loc)), nil
}
