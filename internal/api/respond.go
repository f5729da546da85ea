package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps scheduling errors onto HTTP statuses. Unknown errors
// surface as 500 with a generic body; details stay in the log.
func writeDomainError(w http.ResponseWriter, err error) {
	var unavailable *scheduling.SlotUnavailableError
	var invalid *scheduling.ValidationError

	switch {
	case errors.Is(err, scheduling.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, "working_hour_not_found", err.Error())
	case errors.Is(err, scheduling.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, "blocked_interval_not_found", err.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", string(unavailable.Reason))
	case errors.Is(err, scheduling.ErrStructuralConflict):
		writeError(w, http.StatusConflict, "slot_conflict", "the requested time was booked by a concurrent request")
	case errors.Is(err, scheduling.ErrDoctorBusy):
		writeError(w, http.StatusConflict, "doctor_busy", "another booking for this doctor is in progress, please retry shortly")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_"+invalid.Field, invalid.Msg)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
