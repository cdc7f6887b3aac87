package visit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
)

var (
	ErrNotFound          = errors.New("visit not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVersionConflict   = errors.New("visit was modified concurrently")
	ErrForbidden         = errors.New("action not permitted for this user")

	// ErrStorage marks failures of the backing store rather than of the request.
	ErrStorage = errors.New("storage unavailable")
)

// Status is the workflow state of a case.
type Status string

const (
	StatusCompleted        Status = "Completed"
	StatusPendingReview    Status = "Pending PHC Review"
	StatusUnderMonitoring  Status = "Under Monitoring"
	StatusAwaitingASHA     Status = "Awaiting ASHA Response"
	StatusReferralApproved Status = "Referral Approved"
	StatusReviewed         Status = "Reviewed"
)

var allStatuses = []Status{
	StatusCompleted,
	StatusPendingReview,
	StatusUnderMonitoring,
	StatusAwaitingASHA,
	StatusReferralApproved,
	StatusReviewed,
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, st := range allStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// ParseStatus matches a status label case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid status: %q", s)
}

// Action is something a user does to a case.
type Action string

const (
	ActionRegister             Action = "register"
	ActionEscalate             Action = "escalate"
	ActionApproveReferral      Action = "approve_referral"
	ActionMonitor              Action = "monitor"
	ActionRequestClarification Action = "request_clarification"
	ActionRespondClarification Action = "respond_clarification"
	ActionMarkReviewed         Action = "mark_reviewed"
	ActionSetEmergency         Action = "set_emergency"
)

// IsDecision reports whether a is one of the clinician decisions.
func (a Action) IsDecision() bool {
	switch a {
	case ActionApproveReferral, ActionMonitor, ActionRequestClarification, ActionMarkReviewed:
		return true
	}
	return false
}

type transitionKey struct {
	from   Status
	action Action
}

type transitionRule struct {
	to   Status
	role string
}

var transitions = map[transitionKey]transitionRule{
	{StatusCompleted, ActionEscalate}:                 {StatusPendingReview, auth.RoleASHA},
	{StatusUnderMonitoring, ActionEscalate}:           {StatusPendingReview, auth.RoleASHA},
	{StatusPendingReview, ActionApproveReferral}:      {StatusReferralApproved, auth.RolePHCDoctor},
	{StatusPendingReview, ActionMonitor}:              {StatusUnderMonitoring, auth.RolePHCDoctor},
	{StatusPendingReview, ActionRequestClarification}: {StatusAwaitingASHA, auth.RolePHCDoctor},
	{StatusPendingReview, ActionMarkReviewed}:         {StatusReviewed, auth.RolePHCDoctor},
	{StatusUnderMonitoring, ActionMarkReviewed}:       {StatusReviewed, auth.RolePHCDoctor},
	{StatusAwaitingASHA, ActionRespondClarification}:  {StatusPendingReview, auth.RoleASHA},
}

// NextStatus looks up the status that action moves a case to from the given
// status, along with the role entitled to perform it.
func NextStatus(from Status, action Action) (Status, string, error) {
	rule, ok := transitions[transitionKey{from, action}]
	if !ok {
		return "", "", fmt.Errorf("%w: cannot %s a case that is %q", ErrInvalidTransition, action, from)
	}
	return rule.to, rule.role, nil
}

// AuditEntry records one action on a case together with the score snapshot
// at that moment. Entries are appended, never edited.
type AuditEntry struct {
	ID            uuid.UUID         `json:"id"`
	Action        Action            `json:"action"`
	Actor         string            `json:"actor"`
	ActorRole     string            `json:"actor_role"`
	Note          *string           `json:"note,omitempty"`
	FromStatus    Status            `json:"from_status,omitempty"`
	ToStatus      Status            `json:"to_status"`
	Timestamp     time.Time         `json:"timestamp"`
	TotalScore    int               `json:"total_score"`
	RiskLevel     scoring.RiskLevel `json:"risk_level"`
	RedFlags      []string          `json:"red_flags"`
	EmergencyFlag bool              `json:"emergency_flag"`
}

// Visit is one field assessment of a patient and the review workflow that
// follows it.
type Visit struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	PatientID   *uuid.UUID `db:"patient_id" json:"patient_id,omitempty"`
	PatientName string     `db:"patient_name" json:"patient_name,omitempty"`

	Vitals          scoring.VitalReadings `json:"vitals"`
	ChiefComplaint  *string               `db:"chief_complaint" json:"chief_complaint,omitempty"`
	SymptomDuration *string               `db:"symptom_duration" json:"symptom_duration,omitempty"`
	RedFlags        []string              `db:"red_flags" json:"red_flags"`

	TotalScore        int                      `db:"total_score" json:"total_score"`
	RiskLevel         scoring.RiskLevel        `db:"risk_level" json:"risk_level"`
	Breakdown         []scoring.BreakdownEntry `db:"breakdown" json:"breakdown"`
	MissingParameters []string                 `db:"missing_parameters" json:"missing_parameters"`
	HasRedFlags       bool                     `db:"has_red_flags" json:"has_red_flags"`
	IsPartial         bool                     `db:"is_partial" json:"is_partial"`

	Status        Status `db:"status" json:"status"`
	EmergencyFlag bool   `db:"emergency_flag" json:"emergency_flag"`

	CreatedBy     string `db:"created_by" json:"created_by"`
	CreatedByName string `db:"created_by_name" json:"created_by_name,omitempty"`

	ReviewRequestedAt        *time.Time `db:"review_requested_at" json:"review_requested_at,omitempty"`
	ReviewedAt               *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy               *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	DecisionNote             *string    `db:"decision_note" json:"decision_note,omitempty"`
	MonitoringStartedAt      *time.Time `db:"monitoring_started_at" json:"monitoring_started_at,omitempty"`
	ClarificationRequestedAt *time.Time `db:"clarification_requested_at" json:"clarification_requested_at,omitempty"`
	ClarificationRespondedAt *time.Time `db:"clarification_responded_at" json:"clarification_responded_at,omitempty"`
	ClarificationResponse    *string    `db:"clarification_response" json:"clarification_response,omitempty"`

	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	AuditTrail []AuditEntry `json:"audit_trail,omitempty"`
}

// ApplyScore copies a scoring result onto the visit.
func (v *Visit) ApplyScore(r scoring.Result) {
	v.TotalScore = r.TotalScore
	v.RiskLevel = r.RiskLevel
	v.Breakdown = r.Breakdown
	v.MissingParameters = r.MissingParameters
	v.RedFlags = r.RedFlags
	v.HasRedFlags = r.HasRedFlags
	v.IsPartial = r.IsPartial
}

// ScoreResult rebuilds the scoring result persisted on the visit.
func (v *Visit) ScoreResult() scoring.Result {
	return scoring.Result{
		TotalScore:        v.TotalScore,
		RiskLevel:         v.RiskLevel,
		Breakdown:         v.Breakdown,
		MissingParameters: v.MissingParameters,
		RedFlags:          v.RedFlags,
		HasRedFlags:       v.HasRedFlags,
		IsPartial:         v.IsPartial,
	}
}

// IsPending reports whether the case is waiting for clinician review.
func (v *Visit) IsPending() bool {
	return v.Status == StatusPendingReview
}

// HighScore reports whether the aggregate alone makes the case Red.
func (v *Visit) HighScore() bool {
	return v.TotalScore >= scoring.HighScoreThreshold
}

// MonitoringOverdue reports whether a monitored case has gone past its
// monitoring window as of now.
func (v *Visit) MonitoringOverdue(now time.Time, window time.Duration) bool {
	if v.Status != StatusUnderMonitoring || v.MonitoringStartedAt == nil {
		return false
	}
	return !v.MonitoringStartedAt.Add(window).After(now)
}

func (v *Visit) newEntry(action Action, actor auth.Actor, note string, from Status, now time.Time) AuditEntry {
	e := AuditEntry{
		ID:            uuid.New(),
		Action:        action,
		Actor:         actor.ID,
		ActorRole:     actor.Role,
		FromStatus:    from,
		ToStatus:      v.Status,
		Timestamp:     now,
		TotalScore:    v.TotalScore,
		RiskLevel:     v.RiskLevel,
		RedFlags:      append([]string{}, v.RedFlags...),
		EmergencyFlag: v.EmergencyFlag,
	}
	if note = strings.TrimSpace(note); note != "" {
		e.Note = &note
	}
	return e
}

// Registered stamps a new visit as Completed and returns its first audit entry.
func (v *Visit) Registered(actor auth.Actor, note string, now time.Time) AuditEntry {
	v.Status = StatusCompleted
	v.CreatedBy = actor.ID
	v.CreatedByName = actor.Name
	v.CreatedAt = now
	v.UpdatedAt = now
	entry := v.newEntry(ActionRegister, actor, note, "", now)
	v.AuditTrail = append(v.AuditTrail, entry)
	return entry
}

// Apply performs a status-changing action. It enforces the transition table
// and the actor's role, sets the timestamps the action owns, and appends the
// audit entry it returns.
func (v *Visit) Apply(action Action, actor auth.Actor, note string, now time.Time) (AuditEntry, error) {
	to, role, err := NextStatus(v.Status, action)
	if err != nil {
		return AuditEntry{}, err
	}
	if actor.ID == "" {
		return AuditEntry{}, fmt.Errorf("%w: unauthenticated", ErrForbidden)
	}
	if actor.Role != role && actor.Role != auth.RoleAdmin {
		return AuditEntry{}, fmt.Errorf("%w: %s requires role %s", ErrForbidden, action, role)
	}
	// Field workers act only on cases they registered.
	if actor.Role == auth.RoleASHA && v.CreatedBy != "" && v.CreatedBy != actor.ID {
		return AuditEntry{}, fmt.Errorf("%w: case belongs to another field worker", ErrForbidden)
	}

	trimmed := strings.TrimSpace(note)
	switch action {
	case ActionRequestClarification:
		if trimmed == "" {
			return AuditEntry{}, fmt.Errorf("a question for the field worker is required")
		}
	case ActionRespondClarification:
		if trimmed == "" {
			return AuditEntry{}, fmt.Errorf("response is required")
		}
	}

	from := v.Status
	t := now
	switch action {
	case ActionEscalate:
		v.ReviewRequestedAt = &t
	case ActionRespondClarification:
		v.ClarificationRespondedAt = &t
		v.ClarificationResponse = &trimmed
	default:
		reviewer := actor.ID
		v.ReviewedAt = &t
		v.ReviewedBy = &reviewer
		if trimmed != "" {
			v.DecisionNote = &trimmed
		}
		switch action {
		case ActionMonitor:
			v.MonitoringStartedAt = &t
		case ActionRequestClarification:
			v.ClarificationRequestedAt = &t
		}
	}
	v.Status = to
	v.UpdatedAt = now

	entry := v.newEntry(action, actor, note, from, now)
	v.AuditTrail = append(v.AuditTrail, entry)
	return entry, nil
}

// SetEmergency raises or clears the emergency flag. The status is unchanged.
func (v *Visit) SetEmergency(flag bool, actor auth.Actor, note string, now time.Time) (AuditEntry, error) {
	if !auth.HasAnyRole([]string{actor.Role}, auth.RoleASHA, auth.RolePHCDoctor) {
		return AuditEntry{}, fmt.Errorf("%w: %s requires role %s or %s", ErrForbidden, ActionSetEmergency, auth.RoleASHA, auth.RolePHCDoctor)
	}
	if actor.Role == auth.RoleASHA && v.CreatedBy != "" && v.CreatedBy != actor.ID {
		return AuditEntry{}, fmt.Errorf("%w: case belongs to another field worker", ErrForbidden)
	}
	v.EmergencyFlag = flag
	v.UpdatedAt = now
	entry := v.newEntry(ActionSetEmergency, actor, note, v.Status, now)
	v.AuditTrail = append(v.AuditTrail, entry)
	return entry, nil
}
