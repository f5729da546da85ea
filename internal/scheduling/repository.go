package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// Repository contains all DB interactions needed by the scheduling service.
type Repository interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListActiveDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error)
	PatientExists(ctx context.Context, clinicID, patientID uuid.UUID) (bool, error)

	// Working-hour rules
	ListWorkingHours(ctx context.Context, doctorID uuid.UUID) ([]WorkingHourRule, error)
	CreateWorkingHour(ctx context.Context, rule WorkingHourRule) (*WorkingHourRule, error)
	DeleteWorkingHour(ctx context.Context, clinicID, ruleID uuid.UUID) error

	// Settings; GetSettings returns (nil, nil) when no row exists yet.
	GetSettings(ctx context.Context, doctorID uuid.UUID) (*DoctorSettings, error)
	UpsertSettings(ctx context.Context, settings DoctorSettings) (*DoctorSettings, error)

	// Blocked intervals
	ListBlocked(ctx context.Context, doctorID uuid.UUID) ([]BlockedInterval, error)
	ListBlockedOverlapping(ctx context.Context, doctorID uuid.UUID, window timerange.Range) ([]BlockedInterval, error)
	CreateBlocked(ctx context.Context, block BlockedInterval) (*BlockedInterval, error)
	DeleteBlocked(ctx context.Context, clinicID, blockID uuid.UUID) error

	// Appointments. ListActiveOverlapping returns {scheduled, confirmed}
	// appointments whose range overlaps the window, optionally excluding one
	// appointment id (for reschedule validation).
	GetAppointmentByID(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	ListActiveOverlapping(ctx context.Context, doctorID uuid.UUID, window timerange.Range, excludeID *uuid.UUID) ([]Appointment, error)

	// CreateAppointment and UpdateAppointment surface ErrStructuralConflict
	// when the store's exclusion constraint rejects the write.
	CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)
	UpdateAppointment(ctx context.Context, appt Appointment) (*Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
