package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Active reports whether the status participates in the no-overlap invariant.
func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Timezone  string // IANA name, e.g. "America/New_York"
	CreatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	FullName  string
	Specialty *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkingHourRule is one recurring window on a weekday, expressed as minutes
// since local midnight. Multiple rules per weekday model split shifts.
type WorkingHourRule struct {
	ID          uuid.UUID
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	Weekday     int // 0 = Sunday .. 6 = Saturday, matching time.Weekday
	StartMinute int
	EndMinute   int
}

// DoctorSettings holds the per-doctor slot policy. A missing row reads as
// DefaultSettings; the row itself is created lazily on first write.
type DoctorSettings struct {
	DoctorID        uuid.UUID
	ClinicID        uuid.UUID
	SlotMinutes     int
	LeadTimeMinutes int
	BufferMinutes   int
}

const (
	DefaultSlotMinutes     = 15
	DefaultLeadTimeMinutes = 60
	DefaultBufferMinutes   = 0
)

// DefaultSettings returns the policy applied to doctors without a stored row.
func DefaultSettings(clinicID, doctorID uuid.UUID) DoctorSettings {
	return DoctorSettings{
		DoctorID:        doctorID,
		ClinicID:        clinicID,
		SlotMinutes:     DefaultSlotMinutes,
		LeadTimeMinutes: DefaultLeadTimeMinutes,
		BufferMinutes:   DefaultBufferMinutes,
	}
}

// BlockedInterval is a one-off unavailability window (leave, holiday).
type BlockedInterval struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	DoctorID uuid.UUID
	Range    timerange.Range
	Reason   *string
}

type Appointment struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Range     timerange.Range
	Status    AppointmentStatus
	Mode      string // in_person, video, phone
	Source    string // staff, conversation
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentChanges carries the mutable fields of an update request; nil
// means "leave unchanged". A non-nil Range triggers full re-validation.
type AppointmentChanges struct {
	Range  *timerange.Range
	Status *AppointmentStatus
	Notes  *string
}

// Slot is one bookable candidate produced by the availability generator.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s Slot) Range() timerange.Range {
	return timerange.Range{Start: s.Start, End: s.End}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
