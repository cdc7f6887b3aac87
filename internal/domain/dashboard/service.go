package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/phcwatch/phcwatch/internal/domain/visit"
)

// VisitSource lists every visit at the current facility.
type VisitSource interface {
	ListAll(ctx context.Context) ([]*visit.Visit, error)
}

// PatientCounter counts registered patients.
type PatientCounter interface {
	CountPatients(ctx context.Context) (int, error)
}

type Service struct {
	visits           VisitSource
	patients         PatientCounter
	monitoringWindow time.Duration
	logger           zerolog.Logger
	now              func() time.Time
}

func NewService(visits VisitSource, patients PatientCounter, monitoringWindow time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		visits:           visits,
		patients:         patients,
		monitoringWindow: monitoringWindow,
		logger:           logger.With().Str("component", "dashboard").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Summary(ctx context.Context) (Summary, error) {
	visits, err := s.visits.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load visits: %w", err)
	}
	patients, err := s.patients.CountPatients(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("count patients: %w", err)
	}
	sum := Summarize(visits, patients, s.now(), s.monitoringWindow)
	s.logger.Debug().Int("visits", sum.TotalVisits).Int("pending", sum.PendingReview).Msg("dashboard summary computed")
	return sum, nil
}
