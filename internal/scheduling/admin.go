package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Staff-facing management of the three constraint sources. These mutate
// freely and independently of booking activity; availability always reads
// them fresh.

const minutesPerDay = 24 * 60

func (s *Service) ListWorkingHours(ctx context.Context, clinicID, doctorID uuid.UUID) ([]WorkingHourRule, error) {
	if _, err := s.doctorInClinic(ctx, clinicID, doctorID); err != nil {
		return nil, err
	}
	rules, err := s.repo.ListWorkingHours(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list working hours: %w", err)
	}
	return rules, nil
}

func (s *Service) AddWorkingHour(ctx context.Context, clinicID, doctorID uuid.UUID, weekday, startMinute, endMinute int) (*WorkingHourRule, error) {
	if weekday < 0 || weekday > 6 {
		return nil, NewValidationError("weekday", "must be 0 (Sunday) through 6 (Saturday)")
	}
	if startMinute < 0 || endMinute > minutesPerDay || startMinute >= endMinute {
		return nil, NewValidationError("start_minute", "window must satisfy 0 <= start < end <= 1440")
	}
	if _, err := s.doctorInClinic(ctx, clinicID, doctorID); err != nil {
		return nil, err
	}

	rule, err := s.repo.CreateWorkingHour(ctx, WorkingHourRule{
		ClinicID:    clinicID,
		DoctorID:    doctorID,
		Weekday:     weekday,
		StartMinute: startMinute,
		EndMinute:   endMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("create working hour: %w", err)
	}
	return rule, nil
}

func (s *Service) RemoveWorkingHour(ctx context.Context, clinicID, ruleID uuid.UUID) error {
	return s.repo.DeleteWorkingHour(ctx, clinicID, ruleID)
}

// GetSettings returns the stored settings or the defaults when no row exists.
func (s *Service) GetSettings(ctx context.Context, clinicID, doctorID uuid.UUID) (*DoctorSettings, error) {
	if _, err := s.doctorInClinic(ctx, clinicID, doctorID); err != nil {
		return nil, err
	}
	settings, err := s.repo.GetSettings(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if settings == nil {
		def := DefaultSettings(clinicID, doctorID)
		return &def, nil
	}
	return settings, nil
}

func (s *Service) PutSettings(ctx context.Context, settings DoctorSettings) (*DoctorSettings, error) {
	if settings.SlotMinutes <= 0 {
		return nil, NewValidationError("slot_minutes", "must be positive")
	}
	if settings.LeadTimeMinutes < 0 {
		return nil, NewValidationError("lead_time_minutes", "must not be negative")
	}
	if settings.BufferMinutes < 0 {
		return nil, NewValidationError("buffer_minutes", "must not be negative")
	}
	if _, err := s.doctorInClinic(ctx, settings.ClinicID, settings.DoctorID); err != nil {
		return nil, err
	}

	stored, err := s.repo.UpsertSettings(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("upsert settings: %w", err)
	}
	return stored, nil
}

func (s *Service) ListBlocked(ctx context.Context, clinicID, doctorID uuid.UUID) ([]BlockedInterval, error) {
	if _, err := s.doctorInClinic(ctx, clinicID, doctorID); err != nil {
		return nil, err
	}
	blocked, err := s.repo.ListBlocked(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list blocked intervals: %w", err)
	}
	return blocked, nil
}

func (s *Service) AddBlocked(ctx context.Context, block BlockedInterval) (*BlockedInterval, error) {
	if err := block.Range.Validate(); err != nil {
		return nil, NewValidationError("range", err.Error())
	}
	if _, err := s.doctorInClinic(ctx, block.ClinicID, block.DoctorID); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateBlocked(ctx, block)
	if err != nil {
		return nil, fmt.Errorf("create blocked interval: %w", err)
	}
	return created, nil
}

func (s *Service) RemoveBlocked(ctx context.Context, clinicID, blockID uuid.UUID) error {
	return s.repo.DeleteBlocked(ctx, clinicID, blockID)
}
