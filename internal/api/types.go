package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	DoctorID  string  `json:"doctor_id"`
	PatientID string  `json:"patient_id"`
	Start     string  `json:"start"` // RFC 3339
	End       string  `json:"end"`   // RFC 3339
	Mode      string  `json:"mode,omitempty"`
	Source    string  `json:"source,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

type UpdateAppointmentRequest struct {
	Start  *string `json:"start,omitempty"`
	End    *string `json:"end,omitempty"`
	Status *string `json:"status,omitempty"`
	Notes  *string `json:"notes,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	ClinicID  uuid.UUID `json:"clinic_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	Source    string    `json:"source"`
	Notes     *string   `json:"notes,omitempty"`
}

type DoctorResponse struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type SlotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type WorkingHourRequest struct {
	Weekday     int `json:"weekday"` // 0=Sunday .. 6=Saturday
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

type WorkingHourResponse struct {
	ID          uuid.UUID `json:"id"`
	Weekday     int       `json:"weekday"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
}

type SettingsRequest struct {
	SlotMinutes     int `json:"slot_minutes"`
	LeadTimeMinutes int `json:"lead_time_minutes"`
	BufferMinutes   int `json:"buffer_minutes"`
}

type SettingsResponse struct {
	DoctorID        uuid.UUID `json:"doctor_id"`
	SlotMinutes     int       `json:"slot_minutes"`
	LeadTimeMinutes int       `json:"lead_time_minutes"`
	BufferMinutes   int       `json:"buffer_minutes"`
}

type BlockedIntervalRequest struct {
	Start  string  `json:"start"` // RFC 3339
	End    string  `json:"end"`   // RFC 3339
	Reason *string `json:"reason,omitempty"`
}

type BlockedIntervalResponse struct {
	ID     uuid.UUID `json:"id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Reason *string   `json:"reason,omitempty"`
}

type InboundMessageRequest struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type InboundMessageResponse struct {
	Replies []string `json:"replies"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}
