package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phcwatch/phcwatch/internal/domain/patient"
	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/auth"
	"github.com/phcwatch/phcwatch/internal/platform/db"
	"github.com/phcwatch/phcwatch/internal/platform/metrics"
	"github.com/phcwatch/phcwatch/internal/platform/notify"
)

// PatientDirectory looks up the patient a case is opened for.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// RegisterRequest is what a field worker submits after examining a patient.
type RegisterRequest struct {
	PatientID       uuid.UUID             `json:"patient_id"`
	Vitals          scoring.VitalReadings `json:"vitals"`
	ChiefComplaint  string                `json:"chief_complaint"`
	SymptomDuration string                `json:"symptom_duration"`
	RedFlags        []string              `json:"red_flags"`
	Emergency       bool                  `json:"emergency"`
	// Escalate sends the case straight to the PHC review queue.
	Escalate bool   `json:"escalate"`
	Note     string `json:"note"`
}

type Service struct {
	repo     Repository
	patients PatientDirectory
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientDirectory, notifier notify.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		patients: patients,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "visit").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Score computes a stateless preview without storing anything.
func (s *Service) Score(v scoring.VitalReadings, redFlags []string) scoring.Result {
	return scoring.Compute(v, redFlags)
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest, actor auth.Actor) (*Visit, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: unauthenticated", ErrForbidden)
	}
	p, err := s.patients.GetPatient(ctx, req.PatientID)
	if errors.Is(err, patient.ErrNotFound) {
		return nil, fmt.Errorf("patient %s not found", req.PatientID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: look up patient: %w", ErrStorage, err)
	}
	if actor.Role == auth.RoleASHA && p.ASHAID != actor.ID {
		return nil, fmt.Errorf("%w: patient belongs to another field worker", ErrForbidden)
	}

	now := s.now()
	pid := req.PatientID
	v := &Visit{
		ID:          uuid.New(),
		PatientID:   &pid,
		PatientName: p.Name,
		Vitals:      req.Vitals,
	}
	if c := strings.TrimSpace(req.ChiefComplaint); c != "" {
		v.ChiefComplaint = &c
	}
	if d := strings.TrimSpace(req.SymptomDuration); d != "" {
		v.SymptomDuration = &d
	}
	result := scoring.Compute(req.Vitals, req.RedFlags)
	v.ApplyScore(result)
	v.EmergencyFlag = req.Emergency

	entry := v.Registered(actor, req.Note, now)
	if err := s.repo.Create(ctx, v, entry); err != nil {
		return nil, fmt.Errorf("%w: create visit: %w", ErrStorage, err)
	}

	s.metrics.RecordScore(string(result.RiskLevel), result.IsPartial)
	s.metrics.RecordTransition(string(ActionRegister), "", string(v.Status))
	if v.EmergencyFlag {
		s.metrics.RecordEmergency()
	}
	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("patient_id", pid.String()).
		Int("total_score", v.TotalScore).
		Str("risk_level", string(v.RiskLevel)).
		Bool("partial", v.IsPartial).
		Str("actor", actor.ID).
		Msg("visit registered")

	if req.Escalate {
		return s.Escalate(ctx, v.ID, &v.Version, actor, req.Note)
	}
	return v, nil
}

// Get returns the visit with its audit trail. Field workers may only read
// cases they registered.
func (s *Service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Visit, error) {
	v, err := s.readable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	trail, err := s.repo.AuditTrail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}
	v.AuditTrail = trail
	return v, nil
}

func (s *Service) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error) {
	if st, ok := params["status"]; ok {
		parsed, err := ParseStatus(st)
		if err != nil {
			return nil, 0, err
		}
		params["status"] = string(parsed)
	}
	if rl, ok := params["risk_level"]; ok {
		parsed, err := scoring.ParseRiskLevel(rl)
		if err != nil {
			return nil, 0, err
		}
		params["risk_level"] = string(parsed)
	}
	if pid, ok := params["patient_id"]; ok {
		if _, err := uuid.Parse(pid); err != nil {
			return nil, 0, fmt.Errorf("invalid patient_id")
		}
	}
	return s.repo.Search(ctx, params, limit, offset)
}

// ListEscalated returns every case that is pending review or was ever sent
// for review.
func (s *Service) ListEscalated(ctx context.Context) ([]*Visit, error) {
	return s.repo.ListEscalated(ctx)
}

// ListAll returns every visit at the facility in creation order.
func (s *Service) ListAll(ctx context.Context) ([]*Visit, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]AuditEntry, error) {
	if _, err := s.readable(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.repo.AuditTrail(ctx, id)
}

func (s *Service) readable(ctx context.Context, id uuid.UUID, actor auth.Actor) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == auth.RoleASHA && v.CreatedBy != actor.ID {
		return nil, fmt.Errorf("%w: case belongs to another field worker", ErrForbidden)
	}
	return v, nil
}

// Escalate sends a case to the PHC review queue.
func (s *Service) Escalate(ctx context.Context, id uuid.UUID, version *int, actor auth.Actor, note string) (*Visit, error) {
	return s.transition(ctx, id, version, func(v *Visit, now time.Time) (AuditEntry, error) {
		return v.Apply(ActionEscalate, actor, note, now)
	})
}

// Decide records a clinician decision on a pending or monitored case.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, version *int, decision Action, actor auth.Actor, note string) (*Visit, error) {
	if !decision.IsDecision() {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}
	return s.transition(ctx, id, version, func(v *Visit, now time.Time) (AuditEntry, error) {
		return v.Apply(decision, actor, note, now)
	})
}

// RespondClarification answers a clinician's question and returns the case to review.
func (s *Service) RespondClarification(ctx context.Context, id uuid.UUID, version *int, actor auth.Actor, response string) (*Visit, error) {
	return s.transition(ctx, id, version, func(v *Visit, now time.Time) (AuditEntry, error) {
		return v.Apply(ActionRespondClarification, actor, response, now)
	})
}

func (s *Service) SetEmergency(ctx context.Context, id uuid.UUID, version *int, flag bool, actor auth.Actor, note string) (*Visit, error) {
	return s.transition(ctx, id, version, func(v *Visit, now time.Time) (AuditEntry, error) {
		return v.SetEmergency(flag, actor, note, now)
	})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, version *int, apply func(*Visit, time.Time) (AuditEntry, error)) (*Visit, error) {
	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if version != nil && *version != v.Version {
		return nil, fmt.Errorf("%w: have version %d, stored version is %d", ErrVersionConflict, *version, v.Version)
	}
	loaded := v.Version

	entry, err := apply(v, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, v, loaded, entry); err != nil {
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("save visit: %w", err)
	}

	s.metrics.RecordTransition(string(entry.Action), string(entry.FromStatus), string(entry.ToStatus))
	if entry.Action == ActionSetEmergency && entry.EmergencyFlag {
		s.metrics.RecordEmergency()
	}
	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("action", string(entry.Action)).
		Str("from", string(entry.FromStatus)).
		Str("to", string(entry.ToStatus)).
		Str("actor", entry.Actor).
		Bool("emergency", v.EmergencyFlag).
		Msg("visit transition")

	s.notify(ctx, v, entry)
	return v, nil
}

// notify tells whoever acts next. Failures are logged and never undo the
// transition.
func (s *Service) notify(ctx context.Context, v *Visit, entry AuditEntry) {
	facility := db.FacilityFromContext(ctx)
	if facility == "" {
		facility = "default"
	}

	msg := notify.Message{
		Facility:   facility,
		VisitID:    v.ID,
		Status:     string(v.Status),
		RiskLevel:  string(v.RiskLevel),
		TotalScore: v.TotalScore,
		Emergency:  v.EmergencyFlag,
		Actor:      entry.Actor,
		OccurredAt: entry.Timestamp,
	}
	if v.PatientID != nil {
		msg.PatientID = *v.PatientID
	}
	if entry.Note != nil {
		msg.Note = *entry.Note
	}

	switch {
	case entry.Action == ActionEscalate:
		msg.Kind = notify.KindEscalation
		msg.Recipient = notify.RoleRecipient(facility, auth.RolePHCDoctor)
	case entry.Action == ActionRespondClarification:
		msg.Kind = notify.KindClarification
		msg.Recipient = notify.RoleRecipient(facility, auth.RolePHCDoctor)
	case entry.Action == ActionSetEmergency:
		if !entry.EmergencyFlag {
			return
		}
		msg.Kind = notify.KindEmergency
		msg.Recipient = notify.RoleRecipient(facility, auth.RolePHCDoctor)
	case entry.Action.IsDecision():
		msg.Kind = notify.KindDecision
		msg.Recipient = notify.UserRecipient(facility, v.CreatedBy)
	default:
		return
	}

	if err := s.notifier.Publish(ctx, msg); err != nil {
		s.metrics.RecordNotifyFailure()
		s.logger.Warn().Err(err).
			Str("visit_id", v.ID.String()).
			Str("kind", msg.Kind).
			Str("recipient", msg.Recipient).
			Msg("notification failed")
	}
}
