// Package availability decides whether a catalog song may be requested for a show's scheduled time
package availability

import (
	"fmt"
	"regexp"
	"time"

	"github.com/derWhity/tipqueue/internal/models"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// IsAvailable checks if the song may be requested for a show taking place at the given time.
//
// The rules are evaluated in order and the first failing rule makes the song unavailable:
// the song must be active and available, the weekday of showTime must be listed in the day restrictions (if any)
// and the "HH:mm" part of showTime must fall into at least one of the time slots (if any), both ends inclusive.
// showTime must already be expressed in the performer's time zone.
func IsAvailable(song *models.Song, showTime time.Time) bool {
	if song == nil || !song.IsActive || !song.IsAvailable {
		return false
	}
	r := song.Restrictions
	if r == nil {
		return true
	}
	if len(r.DaysOfWeek) > 0 && !containsDay(r.DaysOfWeek, int(showTime.Weekday())) {
		return false
	}
	if len(r.TimeSlots) > 0 && !inAnySlot(r.TimeSlots, showTime.Format("15:04")) {
		return false
	}
	return true
}

func containsDay(days []int, day int) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// Zero-padded "HH:mm" strings compare lexically in the same order as the times they represent
func inAnySlot(slots []models.TimeSlot, clock string) bool {
	for _, slot := range slots {
		if slot.Start <= clock && clock <= slot.End {
			return true
		}
	}
	return false
}

// ValidClock checks if the string is a zero-padded 24h "HH:mm" time
func ValidClock(s string) bool {
	return clockPattern.MatchString(s)
}

// ValidateRestrictions checks the restrictions of a catalog entry for values the engine cannot evaluate
func ValidateRestrictions(r *models.Restrictions) error {
	if r == nil {
		return nil
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("day of week %d is out of range 0-6", d)
		}
	}
	for i, slot := range r.TimeSlots {
		if !ValidClock(slot.Start) || !ValidClock(slot.End) {
			return fmt.Errorf("time slot #%d must use zero-padded HH:mm notation", i+1)
		}
		if slot.Start > slot.End {
			return fmt.Errorf("time slot #%d ends before it starts", i+1)
		}
	}
	return nil
}
