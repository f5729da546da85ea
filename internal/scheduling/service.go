// Package scheduling computes doctor availability and commits bookings while
// holding the no-overlap invariant for every doctor's calendar.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/metrics"
	"github.com/clinicore/clinic-scheduling/internal/redisclient"
	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

const (
	EventAppointmentBooked        = "APPOINTMENT_BOOKED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
)

// CreateMeta carries the non-scheduling fields of a booking request.
type CreateMeta struct {
	Mode   string
	Source string
	Notes  *string
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// doctorInClinic loads a doctor and enforces clinic scoping. Doctors outside
// the caller's clinic read as not found rather than forbidden.
func (s *Service) doctorInClinic(ctx context.Context, clinicID, doctorID uuid.UUID) (*Doctor, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if doctor.ClinicID != clinicID {
		return nil, ErrDoctorNotFound
	}
	return doctor, nil
}

// ClinicLocation resolves the clinic's IANA zone. Callers that parse
// user-supplied dates must do so in this zone, not server-local time.
func (s *Service) ClinicLocation(ctx context.Context, clinicID uuid.UUID) (*time.Location, error) {
	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}
	return loc, nil
}

// ListDoctors returns the clinic's active doctors in stable order.
func (s *Service) ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	doctors, err := s.repo.ListActiveDoctors(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// GenerateSlots computes the free slots for the doctor on the given date.
// A nil date means today in the clinic's zone. The result is side-effect
// free; an empty list is a normal outcome.
func (s *Service) GenerateSlots(ctx context.Context, clinicID, doctorID uuid.UUID, date *time.Time) ([]Slot, error) {
	doctor, err := s.doctorInClinic(ctx, clinicID, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, ErrDoctorNotFound
	}

	inputs, day, err := s.loadAvailabilityInputs(ctx, doctor, date)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.SlotGenerations.Inc()
	}
	return BuildSlots(inputs, day), nil
}

// loadAvailabilityInputs gathers everything the generator and the booking
// pre-check share: zone, settings, rules and the day's blocked/booked ranges.
// When date is nil the clinic-local today is used, and the returned day
// carries that resolution back to the caller.
func (s *Service) loadAvailabilityInputs(ctx context.Context, doctor *Doctor, date *time.Time) (AvailabilityInputs, time.Time, error) {
	clinic, err := s.repo.GetClinicByID(ctx, doctor.ClinicID)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("load clinic: %w", err)
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}

	now := s.now()
	day := now.In(loc)
	if date != nil {
		day = date.In(loc)
	}

	settings, err := s.repo.GetSettings(ctx, doctor.ID)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("load settings: %w", err)
	}
	if settings == nil {
		def := DefaultSettings(doctor.ClinicID, doctor.ID)
		settings = &def
	}

	rules, err := s.repo.ListWorkingHours(ctx, doctor.ID)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("load working hours: %w", err)
	}

	// Fetch the whole local day, widened by the buffer so appointments just
	// outside it still veto edge slots.
	year, month, dom := day.Date()
	dayWindow := timerange.Range{
		Start: time.Date(year, month, dom, 0, 0, 0, 0, loc),
		End:   time.Date(year, month, dom+1, 0, 0, 0, 0, loc),
	}
	fetchWindow := dayWindow.Expand(time.Duration(settings.BufferMinutes) * time.Minute)

	blocked, err := s.repo.ListBlockedOverlapping(ctx, doctor.ID, dayWindow)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("load blocked intervals: %w", err)
	}
	booked, err := s.repo.ListActiveOverlapping(ctx, doctor.ID, fetchWindow, nil)
	if err != nil {
		return AvailabilityInputs{}, time.Time{}, fmt.Errorf("load appointments: %w", err)
	}

	blockedRanges := make([]timerange.Range, 0, len(blocked))
	for _, b := range blocked {
		blockedRanges = append(blockedRanges, b.Range)
	}
	bookedRanges := make([]timerange.Range, 0, len(booked))
	for _, a := range booked {
		bookedRanges = append(bookedRanges, a.Range)
	}

	return AvailabilityInputs{
		Location: loc,
		Now:      now,
		Settings: *settings,
		Rules:    rules,
		Blocked:  blockedRanges,
		Booked:   bookedRanges,
	}, day, nil
}

// CreateAppointment validates the requested range against working hours,
// lead time, blocked intervals and buffered appointments, then commits under
// a per-doctor lock. The store's exclusion constraint is the authority: an
// insert it rejects surfaces as ErrStructuralConflict regardless of what the
// pre-check concluded.
func (s *Service) CreateAppointment(ctx context.Context, clinicID, doctorID, patientID uuid.UUID, requested timerange.Range, meta CreateMeta) (*Appointment, error) {
	if err := requested.Validate(); err != nil {
		return nil, NewValidationError("range", err.Error())
	}

	doctor, err := s.doctorInClinic(ctx, clinicID, doctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Active {
		return nil, ErrDoctorNotFound
	}

	exists, err := s.repo.PatientExists(ctx, clinicID, patientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	mode := meta.Mode
	if mode == "" {
		mode = "in_person"
	}
	source := meta.Source
	if source == "" {
		source = "staff"
	}

	var created *Appointment
	err = s.locker.WithLock(ctx, redisclient.DoctorLockKey(doctorID), func(lockCtx context.Context) error {
		if err := s.precheck(lockCtx, doctor, requested, nil); err != nil {
			return err
		}

		appt, err := s.repo.CreateAppointment(lockCtx, Appointment{
			ClinicID:  clinicID,
			DoctorID:  doctorID,
			PatientID: patientID,
			Range:     requested,
			Status:    StatusScheduled,
			Mode:      mode,
			Source:    source,
			Notes:     meta.Notes,
		})
		if err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, s.classifyCommitErr(err, doctorID, requested)
	}

	if s.metrics != nil {
		s.metrics.BookingsTotal.Inc()
	}
	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"doctor_id":  doctorID.String(),
		"patient_id": patientID.String(),
		"start":      requested.Start,
		"end":        requested.End,
		"source":     source,
	})
	return created, nil
}

// precheck re-runs the generator's filtering against one specific range.
// excludeID carves the appointment's own prior range out of the conflict
// check during reschedules.
func (s *Service) precheck(ctx context.Context, doctor *Doctor, requested timerange.Range, excludeID *uuid.UUID) error {
	inputs, err := s.loadAvailabilityInputsFor(ctx, doctor, requested, excludeID)
	if err != nil {
		return err
	}
	if err := checkRange(inputs, requested); err != nil {
		var unavailable *SlotUnavailableError
		if s.metrics != nil && errors.As(err, &unavailable) {
			s.metrics.BookingRejections.WithLabelValues(string(unavailable.Reason)).Inc()
		}
		return err
	}
	return nil
}

// loadAvailabilityInputsFor is the precheck variant of input loading: it
// scopes blocked/booked fetches to the requested range instead of a day.
func (s *Service) loadAvailabilityInputsFor(ctx context.Context, doctor *Doctor, requested timerange.Range, excludeID *uuid.UUID) (AvailabilityInputs, error) {
	clinic, err := s.repo.GetClinicByID(ctx, doctor.ClinicID)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("load clinic: %w", err)
	}
	loc, err := time.LoadLocation(clinic.Timezone)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("clinic %s has invalid timezone %q: %w", clinic.ID, clinic.Timezone, err)
	}

	settings, err := s.repo.GetSettings(ctx, doctor.ID)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("load settings: %w", err)
	}
	if settings == nil {
		def := DefaultSettings(doctor.ClinicID, doctor.ID)
		settings = &def
	}

	rules, err := s.repo.ListWorkingHours(ctx, doctor.ID)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("load working hours: %w", err)
	}

	fetchWindow := requested.Expand(time.Duration(settings.BufferMinutes) * time.Minute)

	blocked, err := s.repo.ListBlockedOverlapping(ctx, doctor.ID, requested)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("load blocked intervals: %w", err)
	}
	booked, err := s.repo.ListActiveOverlapping(ctx, doctor.ID, fetchWindow, excludeID)
	if err != nil {
		return AvailabilityInputs{}, fmt.Errorf("load appointments: %w", err)
	}

	blockedRanges := make([]timerange.Range, 0, len(blocked))
	for _, b := range blocked {
		blockedRanges = append(blockedRanges, b.Range)
	}
	bookedRanges := make([]timerange.Range, 0, len(booked))
	for _, a := range booked {
		bookedRanges = append(bookedRanges, a.Range)
	}

	return AvailabilityInputs{
		Location: loc,
		Now:      s.now(),
		Settings: *settings,
		Rules:    rules,
		Blocked:  blockedRanges,
		Booked:   bookedRanges,
	}, nil
}

func (s *Service) classifyCommitErr(err error, doctorID uuid.UUID, requested timerange.Range) error {
	switch {
	case errors.Is(err, ErrStructuralConflict):
		// The pre-check passed but the store said no: a genuine lost race.
		// Logged distinctly so these stay visible in ops dashboards.
		if s.metrics != nil {
			s.metrics.RaceConflicts.Inc()
		}
		s.logger.Warn().
			Str("doctor_id", doctorID.String()).
			Str("range", requested.String()).
			Msg("booking lost a concurrent race at commit time")
		return ErrStructuralConflict
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return ErrDoctorBusy
	default:
		return err
	}
}

// UpdateAppointment applies partial changes. A range change re-runs the full
// pre-check with the appointment's own row excluded, then commits under the
// doctor lock; status and notes edits write directly.
func (s *Service) UpdateAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID, changes AppointmentChanges) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, clinicID, appointmentID)
	if err != nil {
		return nil, err
	}

	if changes.Status != nil && !changes.Status.Valid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", *changes.Status))
	}

	next := *appt
	if changes.Status != nil {
		next.Status = *changes.Status
	}
	if changes.Notes != nil {
		next.Notes = changes.Notes
	}

	rangeChanged := changes.Range != nil && (!changes.Range.Start.Equal(appt.Range.Start) || !changes.Range.End.Equal(appt.Range.End))
	if rangeChanged {
		if err := changes.Range.Validate(); err != nil {
			return nil, NewValidationError("range", err.Error())
		}
		next.Range = *changes.Range

		doctor, err := s.doctorInClinic(ctx, clinicID, appt.DoctorID)
		if err != nil {
			return nil, err
		}

		var updated *Appointment
		err = s.locker.WithLock(ctx, redisclient.DoctorLockKey(appt.DoctorID), func(lockCtx context.Context) error {
			if next.Status.Active() {
				if err := s.precheck(lockCtx, doctor, next.Range, &appt.ID); err != nil {
					return err
				}
			}
			u, err := s.repo.UpdateAppointment(lockCtx, next)
			if err != nil {
				return err
			}
			updated = u
			return nil
		})
		if err != nil {
			return nil, s.classifyCommitErr(err, appt.DoctorID, next.Range)
		}

		s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
			"old_start": appt.Range.Start,
			"old_end":   appt.Range.End,
			"new_start": updated.Range.Start,
			"new_end":   updated.Range.End,
		})
		return updated, nil
	}

	updated, err := s.repo.UpdateAppointment(ctx, next)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if changes.Status != nil && *changes.Status != appt.Status {
		s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
			"from": string(appt.Status),
			"to":   string(updated.Status),
		})
	}
	return updated, nil
}

// logEvent records an audit row; failures are logged and swallowed so audit
// trouble never fails a booking.
func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("appointment_id", appointmentID.String()).Msg("insert event log")
	}
}
