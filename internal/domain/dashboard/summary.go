// Package dashboard aggregates case activity for facility administrators.
package dashboard

import (
	"time"

	"github.com/phcwatch/phcwatch/internal/domain/triage"
	"github.com/phcwatch/phcwatch/internal/domain/visit"
)

// Summary is a point-in-time view over every case at a facility.
type Summary struct {
	GeneratedAt              time.Time      `json:"generated_at"`
	TotalPatients            int            `json:"total_patients"`
	TotalVisits              int            `json:"total_visits"`
	ByRisk                   map[string]int `json:"by_risk"`
	ByStatus                 map[string]int `json:"by_status"`
	PendingReview            int            `json:"pending_review"`
	PendingEmergencies       int            `json:"pending_emergencies"`
	RepeatEscalationPatients int            `json:"repeat_escalation_patients"`
	PartialScores            int            `json:"partial_scores"`
	MonitoringOverdue        int            `json:"monitoring_overdue"`
	OldestWaitingMinutes     int            `json:"oldest_waiting_minutes"`
}

const unclassifiedLabel = "Unclassified"

// Summarize computes the summary from already fetched visits. monitoringWindow
// is how long a case may stay under monitoring before it counts as overdue.
func Summarize(visits []*visit.Visit, totalPatients int, now time.Time, monitoringWindow time.Duration) Summary {
	s := Summary{
		GeneratedAt:   now,
		TotalPatients: totalPatients,
		TotalVisits:   len(visits),
		ByRisk:        make(map[string]int),
		ByStatus:      make(map[string]int),
	}
	for _, st := range visit.Statuses() {
		s.ByStatus[string(st)] = 0
	}

	var pending []*visit.Visit
	for _, v := range visits {
		risk := string(v.RiskLevel)
		if risk == "" {
			risk = unclassifiedLabel
		}
		s.ByRisk[risk]++
		s.ByStatus[string(v.Status)]++
		if v.IsPartial {
			s.PartialScores++
		}
		if v.MonitoringOverdue(now, monitoringWindow) {
			s.MonitoringOverdue++
		}
		if v.IsPending() {
			pending = append(pending, v)
			if v.EmergencyFlag {
				s.PendingEmergencies++
			}
		}
	}
	s.PendingReview = len(pending)

	for _, n := range triage.RepeatCounts(visits) {
		if n > 1 {
			s.RepeatEscalationPatients++
		}
	}

	for _, v := range pending {
		since := triage.WaitingSince(v)
		if since.IsZero() {
			continue
		}
		if m := int(now.Sub(since) / time.Minute); m > s.OldestWaitingMinutes {
			s.OldestWaitingMinutes = m
		}
	}
	return s
}
