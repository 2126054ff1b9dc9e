package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// RecurrenceUnit is the calendar unit a rule advances by.
type RecurrenceUnit string

const (
	RecurrenceUnitDay      RecurrenceUnit = "day"
	RecurrenceUnitWeek     RecurrenceUnit = "week"
	RecurrenceUnitMonth    RecurrenceUnit = "month"
	RecurrenceUnitInterval RecurrenceUnit = "interval" // fixed duration, not calendar-aligned
)

// RecurrenceEnd terminates a rule after Count occurrences or past Until,
// whichever is set. Both zero means the rule never ends.
type RecurrenceEnd struct {
	Count int        `json:"count,omitempty"`
	Until *time.Time `json:"until,omitempty"`
}

// RecurrenceRule describes when a recurring schedule fires. Either the typed
// unit/interval form or a cron expression; the cron form always computes in
// the rule's declared timezone.
type RecurrenceRule struct {
	Unit           RecurrenceUnit `json:"unit,omitempty"`
	Interval       int            `json:"interval,omitempty"` // every N units; duration in seconds for unit=interval
	Anchor         time.Time      `json:"anchor"`
	Timezone       string         `json:"timezone,omitempty"` // IANA name, defaults to UTC
	CronExpression string         `json:"cron_expression,omitempty"`
	End            *RecurrenceEnd `json:"end,omitempty"`
}

// ErrInvalidRecurrenceRule is returned when a rule fails validation.
var ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")

// cronParser accepts the standard 5-field format (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Location resolves the rule's timezone, defaulting to UTC.
func (r *RecurrenceRule) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}

	return time.LoadLocation(r.Timezone)
}

// CronSchedule parses the cron expression form of the rule.
func (r *RecurrenceRule) CronSchedule() (cron.Schedule, error) {
	return cronParser.Parse(r.CronExpression)
}

// Validate rejects rules that are neither a well-formed typed rule nor a
// parseable cron expression. Arbitrary shapes are rejected at creation, never
// persisted as runnable.
func (r *RecurrenceRule) Validate() error {
	if _, err := r.Location(); err != nil {
		return err
	}

	if r.CronExpression != "" {
		_, err := r.CronSchedule()

		return err
	}

	switch r.Unit {
	case RecurrenceUnitDay, RecurrenceUnitWeek, RecurrenceUnitMonth, RecurrenceUnitInterval:
	default:
		return ErrInvalidRecurrenceRule
	}

	if r.Interval <= 0 {
		return ErrInvalidRecurrenceRule
	}

	if r.Anchor.IsZero() {
		return ErrInvalidRecurrenceRule
	}

	return nil
}
