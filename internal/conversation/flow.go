package conversation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clinicore/clinic-scheduling/internal/patient"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
)

// Intent classifies free text arriving while the session is idle.
type Intent string

const (
	IntentBooking  Intent = "booking"
	IntentCancel   Intent = "cancel"
	IntentGreeting Intent = "greeting"
	IntentNone     Intent = "none"
)

var bookingKeywords = []string{"book", "appointment", "schedule", "visit", "see a doctor", "see the doctor"}
var cancelKeywords = []string{"cancel", "reschedule"}
var greetingKeywords = []string{"hi", "hello", "hey", "salam", "good morning", "good afternoon", "good evening"}

// forOtherMarkers flag a booking request explicitly made on someone else's
// behalf, which skips the identity lookup.
var forOtherMarkers = []string{"someone else", "for my ", "for someone"}

func classifyIntent(text string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, kw := range cancelKeywords {
		if strings.Contains(normalized, kw) {
			return IntentCancel
		}
	}
	for _, kw := range bookingKeywords {
		if strings.Contains(normalized, kw) {
			return IntentBooking
		}
	}
	for _, kw := range greetingKeywords {
		if normalized == kw || strings.HasPrefix(normalized, kw+" ") || strings.HasPrefix(normalized, kw+"!") {
			return IntentGreeting
		}
	}
	return IntentNone
}

func hasForOtherMarker(text string) bool {
	normalized := strings.ToLower(text)
	for _, marker := range forOtherMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// parseChoice parses a numbered reply. Every numbered-choice state uses this
// and re-prompts on failure without touching context.
func parseChoice(text string) (int, bool) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimRight(trimmed, ".)")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// parseDate resolves today/tomorrow/literal dates in the clinic's zone.
func parseDate(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	local := now.In(loc)
	switch normalized {
	case "today":
		return local, true
	case "tomorrow":
		return local.AddDate(0, 0, 1), true
	}
	parsed, err := time.ParseInLocation("2006-01-02", normalized, loc)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// Prompt builders. Kept together so the whole user-facing surface of the
// flow is readable in one place.

const (
	promptGreeting       = "Hello! I can help you book an appointment. Just reply \"book\" to get started."
	promptFallback       = "Sorry, I didn't catch that. Reply \"book\" to book an appointment."
	promptCancelHandoff  = "To cancel or change an existing appointment, please call the clinic front desk."
	promptPatientOrOther = "Who is this appointment for?\n1) Me\n2) Someone else"
	promptFamilyName     = "Please send the patient's full name."
	promptApology        = "Sorry, something went wrong on our side. Please try again in a moment."
	promptDatePrompt     = "What date works for you? Reply \"today\", \"tomorrow\" or a date like 2025-03-10."
	promptDateRetry      = "Please reply \"today\", \"tomorrow\" or a date like 2025-03-10."
	promptNoSlots        = "There are no free slots on that date. Please try another date."
	promptSlotTaken      = "Sorry, that slot was just taken. Here are the updated times:"
)

func promptExistingPatients(candidates []PatientOption) string {
	if len(candidates) == 1 {
		return fmt.Sprintf("Is this appointment for %s?\n1) Yes\n2) Someone else", candidates[0].Name)
	}
	var b strings.Builder
	b.WriteString("Who is this appointment for?\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d) %s\n", i+1, c.Name)
	}
	fmt.Fprintf(&b, "%d) Someone else", len(candidates)+1)
	return b.String()
}

func promptRelationships(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "What is %s's relationship to you?\n", name)
	for i, r := range patient.Relationships {
		fmt.Fprintf(&b, "%d) %s\n", i+1, r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func promptDoctors(doctors []DoctorOption) string {
	var b strings.Builder
	b.WriteString("Please choose a doctor:\n")
	for i, d := range doctors {
		fmt.Fprintf(&b, "%d) %s\n", i+1, d.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func promptSlots(slots []scheduling.Slot, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("Available times:\n")
	for i, s := range slots {
		fmt.Fprintf(&b, "%d) %s - %s\n", i+1, s.Start.In(loc).Format("Mon 2 Jan 15:04"), s.End.In(loc).Format("15:04"))
	}
	b.WriteString("Reply with a number to book.")
	return b.String()
}

func promptConfirmation(patientName, doctorName string, slot scheduling.Slot, loc *time.Location) string {
	return fmt.Sprintf("Booked! %s has an appointment with %s on %s - %s.",
		patientName, doctorName,
		slot.Start.In(loc).Format("Mon 2 Jan 15:04"),
		slot.End.In(loc).Format("15:04"))
}
