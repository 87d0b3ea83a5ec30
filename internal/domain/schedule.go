package domain

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleConfig holds the fire time of each tier. Weekly day is 0 (Sunday) to 6,
// monthly day is 1 to 28 so every month has it.
type ScheduleConfig struct {
	DailyHour     int `yaml:"dailyHour" json:"dailyHour"`
	DailyMinute   int `yaml:"dailyMinute" json:"dailyMinute"`
	WeeklyDay     int `yaml:"weeklyDay" json:"weeklyDay"`
	WeeklyHour    int `yaml:"weeklyHour" json:"weeklyHour"`
	WeeklyMinute  int `yaml:"weeklyMinute" json:"weeklyMinute"`
	MonthlyDay    int `yaml:"monthlyDay" json:"monthlyDay"`
	MonthlyHour   int `yaml:"monthlyHour" json:"monthlyHour"`
	MonthlyMinute int `yaml:"monthlyMinute" json:"monthlyMinute"`
}

// DefaultSchedule staggers the tiers so they do not fire in the same minute.
func DefaultSchedule() ScheduleConfig {
	return ScheduleConfig{
		DailyHour:     2,
		DailyMinute:   0,
		WeeklyDay:     0,
		WeeklyHour:    3,
		WeeklyMinute:  0,
		MonthlyDay:    1,
		MonthlyHour:   4,
		MonthlyMinute: 0,
	}
}

// Validate checks every field against its cron range.
func (s ScheduleConfig) Validate() error {
	var errs []error
	check := func(name string, v, lo, hi int) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v))
		}
	}
	check("dailyHour", s.DailyHour, 0, 23)
	check("dailyMinute", s.DailyMinute, 0, 59)
	check("weeklyDay", s.WeeklyDay, 0, 6)
	check("weeklyHour", s.WeeklyHour, 0, 23)
	check("weeklyMinute", s.WeeklyMinute, 0, 59)
	check("monthlyDay", s.MonthlyDay, 1, 28)
	check("monthlyHour", s.MonthlyHour, 0, 23)
	check("monthlyMinute", s.MonthlyMinute, 0, 59)
	return errors.Join(errs...)
}

// CronSpec renders the tier as a standard five-field expression: minute hour dom month dow.
func (s ScheduleConfig) CronSpec(tier Frequency) string {
	switch tier {
	case FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %d", s.WeeklyMinute, s.WeeklyHour, s.WeeklyDay)
	case FrequencyMonthly:
		return fmt.Sprintf("%d %d %d * *", s.MonthlyMinute, s.MonthlyHour, s.MonthlyDay)
	default:
		return fmt.Sprintf("%d %d * * *", s.DailyMinute, s.DailyHour)
	}
}

// Describe is the human-readable form used in startup logs.
func (s ScheduleConfig) Describe(tier Frequency) string {
	switch tier {
	case FrequencyWeekly:
		return fmt.Sprintf("%s every %s", clock(s.WeeklyHour, s.WeeklyMinute), time.Weekday(s.WeeklyDay))
	case FrequencyMonthly:
		return fmt.Sprintf("%s on day %d", clock(s.MonthlyHour, s.MonthlyMinute), s.MonthlyDay)
	default:
		return fmt.Sprintf("%s every day", clock(s.DailyHour, s.DailyMinute))
	}
}

func clock(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
