package visit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/phcwatch/phcwatch/internal/domain/scoring"
	"github.com/phcwatch/phcwatch/internal/platform/db"
)

type queryable interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const visitCols = `id, patient_id, patient_name, respiratory_rate, spo2, temperature, systolic_bp,
	pulse_rate, consciousness, chief_complaint, symptom_duration, red_flags, total_score,
	risk_level, breakdown, missing_parameters, has_red_flags, is_partial, status, emergency_flag,
	created_by, created_by_name, review_requested_at, reviewed_at, reviewed_by, decision_note,
	monitoring_started_at, clarification_requested_at, clarification_responded_at,
	clarification_response, version, created_at, updated_at`

const auditCols = `id, action, actor, actor_role, note, from_status, to_status, total_score,
	risk_level, red_flags, emergency_flag, created_at`

func (r *repoPG) scanVisit(row pgx.Row) (*Visit, error) {
	var (
		v             Visit
		patientName   *string
		consciousness *string
		riskLevel     string
		status        string
		createdByName *string
	)
	err := row.Scan(&v.ID, &v.PatientID, &patientName, &v.Vitals.RespiratoryRate, &v.Vitals.SpO2,
		&v.Vitals.Temperature, &v.Vitals.SystolicBP, &v.Vitals.PulseRate, &consciousness,
		&v.ChiefComplaint, &v.SymptomDuration, &v.RedFlags, &v.TotalScore, &riskLevel, &v.Breakdown,
		&v.MissingParameters, &v.HasRedFlags, &v.IsPartial, &status, &v.EmergencyFlag,
		&v.CreatedBy, &createdByName, &v.ReviewRequestedAt, &v.ReviewedAt, &v.ReviewedBy,
		&v.DecisionNote, &v.MonitoringStartedAt, &v.ClarificationRequestedAt,
		&v.ClarificationRespondedAt, &v.ClarificationResponse, &v.Version, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if patientName != nil {
		v.PatientName = *patientName
	}
	if createdByName != nil {
		v.CreatedByName = *createdByName
	}
	if consciousness != nil {
		v.Vitals.Consciousness = scoring.ParseConsciousness(*consciousness)
	}
	v.RiskLevel = scoring.RiskLevel(riskLevel)
	v.Status = Status(status)
	return &v, nil
}

func scanAudit(row pgx.Row) (AuditEntry, error) {
	var (
		e          AuditEntry
		action     string
		fromStatus *string
		toStatus   string
		riskLevel  string
	)
	err := row.Scan(&e.ID, &action, &e.Actor, &e.ActorRole, &e.Note, &fromStatus, &toStatus,
		&e.TotalScore, &riskLevel, &e.RedFlags, &e.EmergencyFlag, &e.Timestamp)
	if err != nil {
		return e, err
	}
	e.Action = Action(action)
	if fromStatus != nil {
		e.FromStatus = Status(*fromStatus)
	}
	e.ToStatus = Status(toStatus)
	e.RiskLevel = scoring.RiskLevel(riskLevel)
	return e, nil
}

func consciousnessArg(c *scoring.Consciousness) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func insertAudit(ctx context.Context, q queryable, visitID uuid.UUID, e AuditEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO visit_audit (id, visit_id, seq, action, actor, actor_role, note, from_status,
			to_status, total_score, risk_level, red_flags, emergency_flag, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM visit_audit WHERE visit_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, visitID, string(e.Action), e.Actor, e.ActorRole, e.Note, optString(string(e.FromStatus)),
		string(e.ToStatus), e.TotalScore, string(e.RiskLevel), nonNil(e.RedFlags), e.EmergencyFlag, e.Timestamp)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *repoPG) Create(ctx context.Context, v *Visit, entry AuditEntry) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Version = 1
	return pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO visits (id, patient_id, patient_name, respiratory_rate, spo2, temperature,
				systolic_bp, pulse_rate, consciousness, chief_complaint, symptom_duration, red_flags,
				total_score, risk_level, breakdown, missing_parameters, has_red_flags, is_partial,
				status, emergency_flag, created_by, created_by_name, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
			v.ID, v.PatientID, optString(v.PatientName), v.Vitals.RespiratoryRate, v.Vitals.SpO2,
			v.Vitals.Temperature, v.Vitals.SystolicBP, v.Vitals.PulseRate,
			consciousnessArg(v.Vitals.Consciousness), v.ChiefComplaint, v.SymptomDuration,
			nonNil(v.RedFlags), v.TotalScore, string(v.RiskLevel), v.Breakdown,
			nonNil(v.MissingParameters), v.HasRedFlags, v.IsPartial, string(v.Status),
			v.EmergencyFlag, v.CreatedBy, optString(v.CreatedByName), v.Version, v.CreatedAt, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert visit: %w", err)
		}
		return insertAudit(ctx, tx, v.ID, entry)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.scanVisit(r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, v *Visit, expectedVersion int, entries ...AuditEntry) error {
	err := pgx.BeginFunc(ctx, r.conn(ctx), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE visits SET status = $3, emergency_flag = $4, review_requested_at = $5,
				reviewed_at = $6, reviewed_by = $7, decision_note = $8, monitoring_started_at = $9,
				clarification_requested_at = $10, clarification_responded_at = $11,
				clarification_response = $12, updated_at = $13, version = version + 1
			WHERE id = $1 AND version = $2`,
			v.ID, expectedVersion, string(v.Status), v.EmergencyFlag, v.ReviewRequestedAt,
			v.ReviewedAt, v.ReviewedBy, v.DecisionNote, v.MonitoringStartedAt,
			v.ClarificationRequestedAt, v.ClarificationRespondedAt, v.ClarificationResponse, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update visit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM visits WHERE id = $1)`, v.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		for _, e := range entries {
			if err := insertAudit(ctx, tx, v.ID, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.Version = expectedVersion + 1
	return nil
}

func (r *repoPG) collect(rows pgx.Rows) ([]*Visit, error) {
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := r.scanVisit(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

func (r *repoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Visit, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	add := func(clause string, arg interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, arg)
		idx++
	}
	if p, ok := params["status"]; ok {
		add(` AND status = $%d`, p)
	}
	if p, ok := params["patient_id"]; ok {
		add(` AND patient_id = $%d`, p)
	}
	if p, ok := params["risk_level"]; ok {
		add(` AND risk_level = $%d`, p)
	}
	if p, ok := params["created_by"]; ok {
		add(` AND created_by = $%d`, p)
	}
	if p, ok := params["emergency"]; ok {
		add(` AND emergency_flag = $%d`, strings.EqualFold(p, "true"))
	}
	if p, ok := params["q"]; ok {
		add(` AND patient_name ILIKE $%d`, "%"+p+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + visitCols + ` FROM visits` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListEscalated(ctx context.Context) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+visitCols+` FROM visits
		 WHERE status = $1 OR review_requested_at IS NOT NULL
		 ORDER BY created_at, id`, string(StatusPendingReview))
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+visitCols+` FROM visits ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *repoPG) AuditTrail(ctx context.Context, visitID uuid.UUID) ([]AuditEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+auditCols+` FROM visit_audit WHERE visit_id = $1 ORDER BY seq`, visitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
