package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

func listDoctorsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}

		doctors, err := svc.ListDoctors(r.Context(), clinicID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{ID: d.ID, FullName: d.FullName, Specialty: d.Specialty})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		var date *time.Time
		if raw := r.URL.Query().Get("date"); raw != "" {
			loc, err := svc.ClinicLocation(r.Context(), clinicID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must look like 2006-01-02")
				return
			}
			date = &parsed
		}

		slots, err := svc.GenerateSlots(r.Context(), clinicID, doctorID, date)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{Start: s.Start, End: s.End})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		requested, ok := parseRange(w, req.Start, req.End)
		if !ok {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), clinicID, doctorID, patientID, requested, scheduling.CreateMeta{
			Mode:   req.Mode,
			Source: req.Source,
			Notes:  req.Notes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		appointmentID, ok := parseUUIDParam(w, r, "appointmentID")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if (req.Start == nil) != (req.End == nil) {
			writeError(w, http.StatusBadRequest, "invalid_range", "start and end must be provided together")
			return
		}

		var changes scheduling.AppointmentChanges
		if req.Start != nil {
			requested, ok := parseRange(w, *req.Start, *req.End)
			if !ok {
				return
			}
			changes.Range = &requested
		}
		if req.Status != nil {
			status := scheduling.AppointmentStatus(*req.Status)
			changes.Status = &status
		}
		changes.Notes = req.Notes

		appt, err := svc.UpdateAppointment(r.Context(), clinicID, appointmentID, changes)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listWorkingHoursHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		rules, err := svc.ListWorkingHours(r.Context(), clinicID, doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]WorkingHourResponse, 0, len(rules))
		for _, rule := range rules {
			resp = append(resp, WorkingHourResponse{
				ID: rule.ID, Weekday: rule.Weekday, StartMinute: rule.StartMinute, EndMinute: rule.EndMinute,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addWorkingHourHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		var req WorkingHourRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rule, err := svc.AddWorkingHour(r.Context(), clinicID, doctorID, req.Weekday, req.StartMinute, req.EndMinute)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, WorkingHourResponse{
			ID: rule.ID, Weekday: rule.Weekday, StartMinute: rule.StartMinute, EndMinute: rule.EndMinute,
		})
	}
}

func removeWorkingHourHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		ruleID, ok := parseUUIDParam(w, r, "ruleID")
		if !ok {
			return
		}

		if err := svc.RemoveWorkingHour(r.Context(), clinicID, ruleID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getSettingsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		settings, err := svc.GetSettings(r.Context(), clinicID, doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(settings))
	}
}

func putSettingsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		var req SettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		settings, err := svc.PutSettings(r.Context(), scheduling.DoctorSettings{
			ClinicID:        clinicID,
			DoctorID:        doctorID,
			SlotMinutes:     req.SlotMinutes,
			LeadTimeMinutes: req.LeadTimeMinutes,
			BufferMinutes:   req.BufferMinutes,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(settings))
	}
}

func listBlockedHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		blocks, err := svc.ListBlocked(r.Context(), clinicID, doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]BlockedIntervalResponse, 0, len(blocks))
		for _, b := range blocks {
			resp = append(resp, BlockedIntervalResponse{ID: b.ID, Start: b.Range.Start, End: b.Range.End, Reason: b.Reason})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func addBlockedHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}

		var req BlockedIntervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		blocked, ok := parseRange(w, req.Start, req.End)
		if !ok {
			return
		}

		b, err := svc.AddBlocked(r.Context(), scheduling.BlockedInterval{
			ClinicID: clinicID,
			DoctorID: doctorID,
			Range:    blocked,
			Reason:   req.Reason,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, BlockedIntervalResponse{ID: b.ID, Start: b.Range.Start, End: b.Range.End, Reason: b.Reason})
	}
}

func removeBlockedHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}
		blockID, ok := parseUUIDParam(w, r, "blockID")
		if !ok {
			return
		}

		if err := svc.RemoveBlocked(r.Context(), clinicID, blockID); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ConversationService is the slice of the orchestrator the webhook exposes.
type ConversationService interface {
	ProcessInbound(ctx context.Context, clinicID uuid.UUID, phone, text string) ([]string, error)
}

func inboundMessageHandler(conv ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := parseUUIDParam(w, r, "clinicID")
		if !ok {
			return
		}

		var req InboundMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.From == "" {
			writeError(w, http.StatusBadRequest, "invalid_from", "from is required")
			return
		}

		replies, err := conv.ProcessInbound(r.Context(), clinicID, req.From, req.Text)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, InboundMessageResponse{Replies: replies})
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseRange(w http.ResponseWriter, start, end string) (timerange.Range, bool) {
	from, err := time.Parse(time.RFC3339, start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
		return timerange.Range{}, false
	}
	to, err := time.Parse(time.RFC3339, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", "end must be RFC 3339")
		return timerange.Range{}, false
	}
	return timerange.Range{Start: from, End: to}, true
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		ClinicID:  a.ClinicID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Start:     a.Range.Start,
		End:       a.Range.End,
		Status:    string(a.Status),
		Mode:      a.Mode,
		Source:    a.Source,
		Notes:     a.Notes,
	}
}

func toSettingsResponse(s *scheduling.DoctorSettings) SettingsResponse {
	return SettingsResponse{
		DoctorID:        s.DoctorID,
		SlotMinutes:     s.SlotMinutes,
		LeadTimeMinutes: s.LeadTimeMinutes,
		BufferMinutes:   s.BufferMinutes,
	}
}
