package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrClinicNotFound      = errors.New("clinic not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrRuleNotFound        = errors.New("working hour rule not found")
	ErrBlockNotFound       = errors.New("blocked interval not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStructuralConflict is returned when the store's exclusion constraint
	// rejects an insert or update that passed the advisory pre-check, meaning
	// a concurrent booking won the race.
	ErrStructuralConflict = errors.New("appointment overlaps a concurrently committed booking")

	// ErrDoctorBusy is returned when the per-doctor commit lock could not be
	// acquired. The caller should refresh availability and retry.
	ErrDoctorBusy = errors.New("doctor is being booked by another request, please retry")
)

// UnavailableReason classifies why a requested range cannot be booked.
type UnavailableReason string

const (
	ReasonOutsideWorkingHours UnavailableReason = "outside_working_hours"
	ReasonLeadTime            UnavailableReason = "lead_time"
	ReasonBlocked             UnavailableReason = "blocked"
	ReasonOverlapsAppointment UnavailableReason = "overlaps_appointment"
)

// SlotUnavailableError reports a bookable-range rejection from the advisory
// pre-check. It is recoverable: the caller picks a different slot or date.
type SlotUnavailableError struct {
	Reason UnavailableReason
}

func (e *SlotUnavailableError) Error() string {
	return fmt.Sprintf("slot unavailable: %s", e.Reason)
}

// IsSlotUnavailable unwraps err into a SlotUnavailableError if possible.
func IsSlotUnavailable(err error) (*SlotUnavailableError, bool) {
	var e *SlotUnavailableError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ValidationError reports malformed input. No state is changed.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
