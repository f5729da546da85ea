// Package conversation drives the multi-turn booking dialogue over inbound
// text messages. One session row per (clinic, phone) holds the state label
// and the accumulated context; every turn rewrites the whole row.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

// State labels where a counterparty sits in the booking flow. The set is
// closed: the transition function switches over every member and the tests
// fail if a state is added without a handler.
type State string

const (
	StateIdle                   State = "idle"
	StateAskPatientOrOther      State = "ask_patient_or_other"
	StateAskExistingPatient     State = "ask_existing_patient_choice"
	StateAskFamilyMemberName    State = "ask_family_member_name"
	StateAskFamilyRelationship  State = "ask_family_relationship"
	StateAskDoctor              State = "ask_doctor"
	StateAskDate                State = "ask_date"
	StateAskSlot                State = "ask_slot"
	StateDone                   State = "done"
)

// AllStates enumerates the closed state set for exhaustiveness checks.
func AllStates() []State {
	return []State{
		StateIdle,
		StateAskPatientOrOther,
		StateAskExistingPatient,
		StateAskFamilyMemberName,
		StateAskFamilyRelationship,
		StateAskDoctor,
		StateAskDate,
		StateAskSlot,
		StateDone,
	}
}

// PatientOption is one numbered patient choice presented to the counterparty.
type PatientOption struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DoctorOption is one numbered doctor choice.
type DoctorOption struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Context is the structured blob accumulated across turns. It is persisted
// whole on every transition and cleared when the flow terminates.
type Context struct {
	ForOther    bool            `json:"for_other,omitempty"`
	FamilyName  string          `json:"family_name,omitempty"`
	PatientID   *uuid.UUID      `json:"patient_id,omitempty"`
	PatientName string          `json:"patient_name,omitempty"`
	Candidates  []PatientOption `json:"candidates,omitempty"`

	Doctors    []DoctorOption `json:"doctors,omitempty"`
	DoctorID   *uuid.UUID     `json:"doctor_id,omitempty"`
	DoctorName string         `json:"doctor_name,omitempty"`

	Date  string            `json:"date,omitempty"` // clinic-local YYYY-MM-DD
	Slots []scheduling.Slot `json:"slots,omitempty"`

	// Turn replay bookkeeping: the last processed inbound text, the replies
	// it produced, and the state that consumed it. A duplicated delivery is
	// answered from LastReplies instead of being fed to the next state, so a
	// repeated choice never books twice or registers as free text.
	LastInput   string   `json:"last_input,omitempty"`
	LastReplies []string `json:"last_replies,omitempty"`
	LastState   State    `json:"last_state,omitempty"`
}

// Session is one row per (clinic, phone) counterparty.
type Session struct {
	ClinicID          uuid.UUID
	Phone             string
	State             State
	Context           Context
	LastInteractionAt time.Time
}
