// Package recurrence computes the next due time for recurring schedules.
// Calculation advances calendar units in the rule's declared timezone, so
// "monthly on the 31st" lands on Feb 28/29 and reverts to the 31st in March,
// and DST transitions never drift the wall-clock firing time.
package recurrence

import (
	"errors"
	"time"

	"github.com/heraldkit/herald/pkg/models"
)

// ErrRuleDiverged is returned when the occurrence search fails to converge,
// which indicates a malformed rule that escaped validation.
var ErrRuleDiverged = errors.New("recurrence rule did not converge")

// searchLimit bounds the linear scan after the coarse occurrence estimate.
const searchLimit = 1000

// Next returns the first occurrence strictly after lastFiredAt, or nil once
// the rule's end condition (max occurrences or end date) is met. The result
// is in UTC; all intermediate arithmetic happens in the rule's timezone.
func Next(rule *models.RecurrenceRule, lastFiredAt time.Time) (*time.Time, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	loc, err := rule.Location()
	if err != nil {
		return nil, err
	}

	if rule.CronExpression != "" {
		return nextCron(rule, lastFiredAt, loc)
	}

	index := estimateIndex(rule, lastFiredAt, loc)

	for steps := 0; steps < searchLimit; steps++ {
		candidate := occurrence(rule, index, loc)
		if candidate.After(lastFiredAt) {
			return applyEnd(rule, candidate, index)
		}

		index++
	}

	return nil, ErrRuleDiverged
}

// occurrence computes the index-th firing (index 0 is the anchor itself).
func occurrence(rule *models.RecurrenceRule, index int, loc *time.Location) time.Time {
	anchor := rule.Anchor.In(loc)

	switch rule.Unit {
	case models.RecurrenceUnitDay:
		return anchor.AddDate(0, 0, index*rule.Interval)
	case models.RecurrenceUnitWeek:
		return anchor.AddDate(0, 0, index*rule.Interval*7)
	case models.RecurrenceUnitMonth:
		return addMonthsClamped(anchor, index*rule.Interval)
	case models.RecurrenceUnitInterval:
		return anchor.Add(time.Duration(index*rule.Interval) * time.Second)
	default:
		return anchor
	}
}

// addMonthsClamped advances whole months keeping the anchor's day-of-month,
// clamping to the last day of shorter months without losing the original day
// for later months.
func addMonthsClamped(anchor time.Time, months int) time.Time {
	year, month, day := anchor.Date()
	hour, minute, sec := anchor.Clock()

	// Normalize via the first of the target month, then clamp the day.
	first := time.Date(year, month+time.Month(months), 1, hour, minute, sec, anchor.Nanosecond(), anchor.Location())

	lastDay := daysInMonth(first.Year(), first.Month())
	if day > lastDay {
		day = lastDay
	}

	return time.Date(first.Year(), first.Month(), day, hour, minute, sec, anchor.Nanosecond(), anchor.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// estimateIndex gives a coarse lower bound for the occurrence search so the
// linear scan stays short regardless of how far lastFiredAt is from the anchor.
func estimateIndex(rule *models.RecurrenceRule, lastFiredAt time.Time, loc *time.Location) int {
	anchor := rule.Anchor.In(loc)
	last := lastFiredAt.In(loc)

	if !last.After(anchor) {
		return 0
	}

	var index int

	switch rule.Unit {
	case models.RecurrenceUnitDay:
		index = int(last.Sub(anchor).Hours()/24) / rule.Interval
	case models.RecurrenceUnitWeek:
		index = int(last.Sub(anchor).Hours()/(24*7)) / rule.Interval
	case models.RecurrenceUnitMonth:
		months := (last.Year()-anchor.Year())*12 + int(last.Month()-anchor.Month())
		index = months / rule.Interval
	case models.RecurrenceUnitInterval:
		index = int(last.Sub(anchor)/time.Second) / rule.Interval
	}

	// Back off a couple of steps so the scan crosses the boundary itself.
	index -= 2
	if index < 0 {
		index = 0
	}

	return index
}

// applyEnd enforces the rule's end condition for the candidate occurrence.
// index is zero-based, so the candidate is occurrence number index+1.
func applyEnd(rule *models.RecurrenceRule, candidate time.Time, index int) (*time.Time, error) {
	if rule.End != nil {
		if rule.End.Count > 0 && index+1 > rule.End.Count {
			return nil, nil
		}

		if rule.End.Until != nil && candidate.After(*rule.End.Until) {
			return nil, nil
		}
	}

	utc := candidate.UTC()

	return &utc, nil
}

// nextCron handles the cron-expression rule form. Occurrence counting steps
// from the anchor, bounded by the rule's own count.
func nextCron(rule *models.RecurrenceRule, lastFiredAt time.Time, loc *time.Location) (*time.Time, error) {
	schedule, err := rule.CronSchedule()
	if err != nil {
		return nil, err
	}

	reference := lastFiredAt.In(loc)
	if reference.Before(rule.Anchor) {
		reference = rule.Anchor.In(loc)
	}

	candidate := schedule.Next(reference)

	if rule.End != nil {
		if rule.End.Until != nil && candidate.After(*rule.End.Until) {
			return nil, nil
		}

		if rule.End.Count > 0 {
			cursor := rule.Anchor.In(loc)

			for fired := 0; fired < rule.End.Count; fired++ {
				cursor = schedule.Next(cursor)
				if !cursor.Before(candidate) {
					utc := candidate.UTC()

					return &utc, nil
				}
			}

			return nil, nil
		}
	}

	utc := candidate.UTC()

	return &utc, nil
}
