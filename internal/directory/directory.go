package directory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clinicdesk/scheduling-engine/internal/scheduling"
)

// ExternalDoctor is a doctor surfaced by the web-search collaborator. These
// are display-only: they have no slots and cannot be booked unless an
// administrative process imports them onto the roster.
type ExternalDoctor struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
	Source    string `json:"source"`
}

// Searcher is the web-search discovery collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]ExternalDoctor, error)
}

// RosterSearcher is the slice of the scheduling repository the directory
// reads. It never mutates scheduling state.
type RosterSearcher interface {
	SearchDoctors(ctx context.Context, query string, limit int) ([]scheduling.Doctor, error)
}

// Result is a combined roster/discovery answer. Exactly one of the two
// slices is populated: discovery only runs on a roster miss.
type Result struct {
	Roster   []scheduling.Doctor
	External []ExternalDoctor
}

// Service answers doctor lookups: the clinic roster first, and only when the
// roster has no match, the external discovery collaborator.
type Service struct {
	roster   RosterSearcher
	searcher Searcher
	log      *zap.Logger
}

func NewService(roster RosterSearcher, searcher Searcher, log *zap.Logger) *Service {
	return &Service{
		roster:   roster,
		searcher: searcher,
		log:      log.Named("directory"),
	}
}

func (s *Service) FindDoctors(ctx context.Context, query string, limit int) (Result, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}

	doctors, err := s.roster.SearchDoctors(ctx, query, limit)
	if err != nil {
		return Result{}, fmt.Errorf("search roster: %w", err)
	}
	if len(doctors) > 0 {
		return Result{Roster: doctors}, nil
	}

	if s.searcher == nil {
		return Result{}, nil
	}

	external, err := s.searcher.Search(ctx, query, limit)
	if err != nil {
		// Discovery is best-effort: a collaborator outage must not break
		// roster lookups.
		s.log.Warn("external discovery failed", zap.String("query", query), zap.Error(err))
		return Result{}, nil
	}
	return Result{External: external}, nil
}
