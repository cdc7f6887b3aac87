package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phcwatch/phcwatch/internal/platform/auth"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "patient").Logger()}
}

func normalize(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.ASHAID == "" {
		return fmt.Errorf("asha_id is required")
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > maxAge) {
		return fmt.Errorf("age must be between 0 and %d", maxAge)
	}
	for _, f := range []**string{&p.Sex, &p.Village, &p.Phone} {
		if *f == nil {
			continue
		}
		if s := strings.TrimSpace(**f); s != "" {
			*f = &s
		} else {
			*f = nil
		}
	}
	return nil
}

// CreatePatient registers a patient. A field worker always registers patients
// under their own id.
func (s *Service) CreatePatient(ctx context.Context, p *Patient, actor auth.Actor) error {
	if actor.Role == auth.RoleASHA {
		p.ASHAID = actor.ID
	}
	if err := normalize(p); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Str("asha_id", p.ASHAID).Msg("patient registered")
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient, actor auth.Actor) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if actor.Role == auth.RoleASHA && existing.ASHAID != actor.ID {
		return fmt.Errorf("%w: patient belongs to another field worker", ErrForbidden)
	}
	if p.ASHAID == "" {
		p.ASHAID = existing.ASHAID
	}
	if err := normalize(p); err != nil {
		return err
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) SearchPatients(ctx context.Context, params map[string]string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

func (s *Service) CountPatients(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
