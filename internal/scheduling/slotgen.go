package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateSlots expands a doctor's weekly schedules into concrete slots of
// fixed granularity over [from, from+horizonDays). Windows too short for a
// full slot contribute nothing; unavailable schedule rows are skipped.
func GenerateSlots(doctorID uuid.UUID, schedules []Schedule, from time.Time, horizonDays, slotMinutes int) ([]Slot, error) {
	if slotMinutes <= 0 {
		return nil, fmt.Errorf("slot granularity must be positive, got %d", slotMinutes)
	}
	if horizonDays <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", horizonDays)
	}

	byDay := make(map[time.Weekday][]Schedule)
	for _, sc := range schedules {
		if !sc.Available {
			continue
		}
		byDay[sc.DayOfWeek] = append(byDay[sc.DayOfWeek], sc)
	}

	step := time.Duration(slotMinutes) * time.Minute
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())

	var slots []Slot
	for i := 0; i < horizonDays; i++ {
		for _, sc := range byDay[day.Weekday()] {
			start, err := atClock(day, sc.StartTime)
			if err != nil {
				return nil, fmt.Errorf("schedule %s start: %w", sc.ID, err)
			}
			end, err := atClock(day, sc.EndTime)
			if err != nil {
				return nil, fmt.Errorf("schedule %s end: %w", sc.ID, err)
			}

			for cur := start; !cur.Add(step).After(end); cur = cur.Add(step) {
				slots = append(slots, Slot{
					ID:              uuid.New(),
					DoctorID:        doctorID,
					StartTime:       cur,
					DurationMinutes: slotMinutes,
					State:           SlotFree,
				})
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	return slots, nil
}

// atClock combines a calendar day with an "HH:MM" clock string.
func atClock(day time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}
