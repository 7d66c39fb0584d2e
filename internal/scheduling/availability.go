package scheduling

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// AvailabilityEngine answers point-in-time free-slot queries. Results are
// advisory: nothing is locked, and the booking manager re-validates the slot
// state before committing. Losing the race between query and booking is
// expected and surfaces there as a conflict, never here.
type AvailabilityEngine struct {
	repo Repository
	log  *zap.Logger
}

func NewAvailabilityEngine(repo Repository, log *zap.Logger) *AvailabilityEngine {
	return &AvailabilityEngine{
		repo: repo,
		log:  log.Named("availability"),
	}
}

// FindAvailable enumerates FREE slots matching the query, earliest first.
// An empty result is not an error.
func (e *AvailabilityEngine) FindAvailable(ctx context.Context, q AvailabilityQuery) ([]Slot, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	if q.DoctorID != nil {
		if _, err := e.repo.GetDoctorByID(ctx, *q.DoctorID); err != nil {
			return nil, err
		}
	}

	slots, err := e.repo.ListFreeSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list free slots: %w", err)
	}

	e.log.Debug("availability query",
		zap.Time("from", q.From),
		zap.Time("to", q.To),
		zap.Int("matches", len(slots)),
	)

	return slots, nil
}

func validateQuery(q AvailabilityQuery) error {
	if q.DoctorID == nil && q.Specialty == "" {
		return fmt.Errorf("%w: doctor or specialty required", ErrInvalidRange)
	}
	if q.From.IsZero() || q.To.IsZero() {
		return fmt.Errorf("%w: missing bounds", ErrInvalidRange)
	}
	if !q.To.After(q.From) {
		return fmt.Errorf("%w: end %s not after start %s", ErrInvalidRange, q.To.Format("2006-01-02"), q.From.Format("2006-01-02"))
	}
	if q.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRange)
	}
	return nil
}
