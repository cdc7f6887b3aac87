package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/domain/visit"
	"github.com/phcwatch/phcwatch/internal/platform/metrics"
	"github.com/phcwatch/phcwatch/pkg/pagination"
)

// QueueEntry is one case in the review queue.
type QueueEntry struct {
	Position         int          `json:"position"`
	Visit            *visit.Visit `json:"visit"`
	RepeatEscalation bool         `json:"repeat_escalation"`
	PatientCases     int          `json:"patient_cases"`
	WaitingSince     *time.Time   `json:"waiting_since,omitempty"`
	WaitingMinutes   int          `json:"waiting_minutes"`
	Advice           []string     `json:"advice"`
}

// BuildQueue orders the pending cases among candidates and annotates each
// with its position and how long it has waited as of now. Repeat escalations
// are counted over all candidates, so an earlier case that is now under
// monitoring still marks the patient. Positions start at 1.
func BuildQueue(candidates []*visit.Visit, now time.Time) []QueueEntry {
	repeats := RepeatCounts(candidates)
	var pending []*visit.Visit
	for _, v := range candidates {
		if v != nil && v.IsPending() {
			pending = append(pending, v)
		}
	}
	ordered := PrioritizeWith(pending, repeats)
	entries := make([]QueueEntry, 0, len(ordered))
	for i, v := range ordered {
		e := QueueEntry{
			Position:         i + 1,
			Visit:            v,
			RepeatEscalation: IsRepeat(v, repeats),
			Advice:           scoring.Advice(v.RiskLevel),
		}
		if v.PatientID != nil {
			e.PatientCases = repeats[*v.PatientID]
		}
		if since := WaitingSince(v); !since.IsZero() {
			e.WaitingSince = &since
			if d := now.Sub(since); d > 0 {
				e.WaitingMinutes = int(d / time.Minute)
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// EscalationLister fetches cases that are pending review or were ever sent
// for review.
type EscalationLister interface {
	ListEscalated(ctx context.Context) ([]*visit.Visit, error)
}

// QueueService serves the pending review queue.
type QueueService struct {
	visits  EscalationLister
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewQueueService(visits EscalationLister, m *metrics.Metrics, logger zerolog.Logger) *QueueService {
	return &QueueService{
		visits:  visits,
		metrics: m,
		logger:  logger.With().Str("component", "triage").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *QueueService) SetClock(now func() time.Time) {
	s.now = now
}

// Queue returns one page of the prioritized queue and the queue length.
func (s *QueueService) Queue(ctx context.Context, pg pagination.Params) ([]QueueEntry, int, error) {
	candidates, err := s.visits.ListEscalated(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load escalated cases: %w", err)
	}
	entries := BuildQueue(candidates, s.now())
	s.metrics.SetQueueDepth(len(entries))
	s.logger.Debug().Int("depth", len(entries)).Msg("review queue built")

	start, end := pg.Window(len(entries))
	return entries[start:end], len(entries), nil
}
