// Package triage orders escalated cases into the clinician review queue.
package triage

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/phcwatch/phcwatch/internal/domain/visit"
)

// Prioritize returns cases in review order, counting repeat escalations
// within cases itself. The input slice is not modified and cases that compare
// equal keep their input order. Nil entries are dropped.
func Prioritize(cases []*visit.Visit) []*visit.Visit {
	return PrioritizeWith(cases, RepeatCounts(cases))
}

// PrioritizeWith orders cases using repeat counts taken over a wider candidate
// set, such as every case a patient ever had escalated.
func PrioritizeWith(cases []*visit.Visit, repeats map[uuid.UUID]int) []*visit.Visit {
	out := make([]*visit.Visit, 0, len(cases))
	for _, v := range cases {
		if v != nil {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(out[i], out[j], repeats) < 0
	})
	return out
}

// Compare orders two cases. It returns a negative number when a should be
// reviewed before b, a positive number when b goes first and zero on a tie.
//
// Criteria, in precedence order: emergency flag, aggregate score at or above
// the high threshold, repeat escalation for the same patient, risk tier, and
// longest wait.
func Compare(a, b *visit.Visit, repeats map[uuid.UUID]int) int {
	if c := preferTrue(a.EmergencyFlag, b.EmergencyFlag); c != 0 {
		return c
	}
	if c := preferTrue(a.HighScore(), b.HighScore()); c != 0 {
		return c
	}
	if c := preferTrue(IsRepeat(a, repeats), IsRepeat(b, repeats)); c != 0 {
		return c
	}
	if ra, rb := a.RiskLevel.Rank(), b.RiskLevel.Rank(); ra != rb {
		if ra > rb {
			return -1
		}
		return 1
	}
	wa, wb := WaitingSince(a), WaitingSince(b)
	switch {
	case wa.Before(wb):
		return -1
	case wb.Before(wa):
		return 1
	}
	return 0
}

func preferTrue(a, b bool) int {
	switch {
	case a && !b:
		return -1
	case b && !a:
		return 1
	}
	return 0
}

// RepeatCounts counts, per patient, the cases that are awaiting review or have
// ever been sent for review. Cases without a patient are skipped.
func RepeatCounts(cases []*visit.Visit) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for _, v := range cases {
		if v == nil || v.PatientID == nil || *v.PatientID == uuid.Nil {
			continue
		}
		if v.IsPending() || v.ReviewRequestedAt != nil {
			counts[*v.PatientID]++
		}
	}
	return counts
}

// IsRepeat reports whether the case's patient has more than one escalated case.
func IsRepeat(v *visit.Visit, repeats map[uuid.UUID]int) bool {
	if v.PatientID == nil {
		return false
	}
	return repeats[*v.PatientID] > 1
}

// WaitingSince is when the case started waiting for review: the escalation
// time, else the creation time. A case with neither returns the zero time so
// it sorts as the longest waiting.
func WaitingSince(v *visit.Visit) time.Time {
	if v.ReviewRequestedAt != nil {
		return *v.ReviewRequestedAt
	}
	return v.CreatedAt
}
