package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/metrics"
	"github.com/clinicore/clinic-scheduling/internal/patient"
	"github.com/clinicore/clinic-scheduling/internal/redisclient"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// Sender delivers outbound replies. Failures are non-fatal: the session
// state is already saved when Send runs, so a dropped reply never corrupts
// the flow.
type Sender interface {
	Send(ctx context.Context, clinicID uuid.UUID, to, body string) error
}

// Scheduler is the slice of the scheduling service the flow drives.
type Scheduler interface {
	ClinicLocation(ctx context.Context, clinicID uuid.UUID) (*time.Location, error)
	ListDoctors(ctx context.Context, clinicID uuid.UUID) ([]scheduling.Doctor, error)
	GenerateSlots(ctx context.Context, clinicID, doctorID uuid.UUID, date *time.Time) ([]scheduling.Slot, error)
	CreateAppointment(ctx context.Context, clinicID, doctorID, patientID uuid.UUID, requested timerange.Range, meta scheduling.CreateMeta) (*scheduling.Appointment, error)
}

const (
	maxListedDoctors    = 9
	maxListedSlots      = 9
	maxListedCandidates = 9

	// dedupeWindow bounds how long a just-finished turn's replies are
	// replayed for an identical duplicate delivery.
	dedupeWindow = time.Minute

	sendTimeout = 5 * time.Second

	readRetries    = 2
	readRetryDelay = 150 * time.Millisecond
)

type Service struct {
	sessions  SessionStore
	scheduler Scheduler
	directory patient.Directory
	locker    redisclient.Locker
	sender    Sender
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(sessions SessionStore, scheduler Scheduler, directory patient.Directory, locker redisclient.Locker, sender Sender, logger zerolog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		sessions:  sessions,
		scheduler: scheduler,
		directory: directory,
		locker:    locker,
		sender:    sender,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ProcessInbound handles one conversation turn and returns the ordered
// outbound payloads. Turns for the same (clinic, phone) are serialized by a
// blocking session lock held from before the session read until after the
// resulting state is durably saved; different counterparties proceed in
// parallel.
func (s *Service) ProcessInbound(ctx context.Context, clinicID uuid.UUID, phone, text string) ([]string, error) {
	if s.metrics != nil {
		s.metrics.ConversationTurns.Inc()
	}

	var replies []string
	err := s.locker.WithLockWait(ctx, redisclient.SessionLockKey(clinicID, phone), func(lockCtx context.Context) error {
		sess, err := s.sessions.Get(lockCtx, clinicID, phone)
		if err != nil {
			return err
		}
		if sess == nil {
			sess = &Session{ClinicID: clinicID, Phone: phone, State: StateIdle}
		}

		now := s.now()

		// Replay of the previous turn's input. When that input already moved
		// the machine to a new state, feeding the duplicate to the current
		// state would misread it (book twice, or take a menu choice as free
		// text), so resend the cached replies instead. When the state did not
		// change the repeat is a deliberate new answer, e.g. re-picking the
		// same slot number after the list was refreshed.
		if text == sess.Context.LastInput && sess.State != sess.Context.LastState &&
			len(sess.Context.LastReplies) > 0 && now.Sub(sess.LastInteractionAt) <= dedupeWindow {
			replies = sess.Context.LastReplies
			return nil
		}

		prevState := sess.State
		newState, newCtx, out := s.step(lockCtx, sess, text)

		newCtx.LastInput = text
		newCtx.LastReplies = out
		newCtx.LastState = prevState
		sess.State = newState
		sess.Context = newCtx
		sess.LastInteractionAt = now

		if err := s.sessions.Save(lockCtx, sess); err != nil {
			return err
		}
		replies = out

		s.deliver(lockCtx, clinicID, phone, out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("process inbound turn: %w", err)
	}
	return replies, nil
}

// deliver sends replies best-effort with a per-message timeout. State is
// already saved; a delivery failure only logs.
func (s *Service) deliver(ctx context.Context, clinicID uuid.UUID, phone string, replies []string) {
	if s.sender == nil {
		return
	}
	for _, body := range replies {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		err := s.sender.Send(sendCtx, clinicID, phone, body)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("phone", phone).Msg("outbound reply delivery failed")
		}
	}
}

// step is the transition function: (state, context, input) -> (state',
// context', replies). Unrecognized input re-prompts in place; an unknown
// state resets to idle.
func (s *Service) step(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	switch sess.State {
	case StateIdle, StateDone:
		return s.handleIdle(ctx, sess, text)
	case StateAskPatientOrOther:
		return s.handlePatientOrOther(ctx, sess, text)
	case StateAskExistingPatient:
		return s.handleExistingPatient(ctx, sess, text)
	case StateAskFamilyMemberName:
		return s.handleFamilyName(ctx, sess, text)
	case StateAskFamilyRelationship:
		return s.handleFamilyRelationship(ctx, sess, text)
	case StateAskDoctor:
		return s.handleDoctor(ctx, sess, text)
	case StateAskDate:
		return s.handleDate(ctx, sess, text)
	case StateAskSlot:
		return s.handleSlot(ctx, sess, text)
	default:
		s.logger.Error().Str("state", string(sess.State)).Msg("session in unknown state, resetting")
		return StateIdle, Context{}, []string{promptFallback}
	}
}

func (s *Service) handleIdle(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	switch classifyIntent(text) {
	case IntentGreeting:
		return StateIdle, Context{}, []string{promptGreeting}
	case IntentCancel:
		return StateIdle, Context{}, []string{promptCancelHandoff}
	case IntentNone:
		return StateIdle, Context{}, []string{promptFallback}
	}

	// Booking intent. An explicit "for someone else" marker skips the
	// identity lookup entirely.
	if hasForOtherMarker(text) {
		return StateAskFamilyMemberName, Context{ForOther: true}, []string{promptFamilyName}
	}

	var known []patient.Patient
	err := s.retryRead(ctx, func() error {
		var err error
		known, err = s.directory.FindByPhone(ctx, sess.ClinicID, sess.Phone)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("patient lookup failed")
		return sess.State, sess.Context, []string{promptApology}
	}

	switch len(known) {
	case 0:
		return StateAskPatientOrOther, Context{}, []string{promptPatientOrOther}
	default:
		if len(known) > maxListedCandidates {
			known = known[:maxListedCandidates]
		}
		candidates := make([]PatientOption, 0, len(known))
		for _, p := range known {
			candidates = append(candidates, PatientOption{ID: p.ID, Name: p.FullName})
		}
		return StateAskExistingPatient, Context{Candidates: candidates}, []string{promptExistingPatients(candidates)}
	}
}

func (s *Service) handlePatientOrOther(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	choice, ok := parseChoice(text)
	if !ok || choice > 2 {
		return sess.State, sess.Context, []string{promptPatientOrOther}
	}
	next := sess.Context
	if choice == 2 {
		next.ForOther = true
	}
	// Either way the patient is not on file yet; collect the name first.
	return StateAskFamilyMemberName, next, []string{promptFamilyName}
}

func (s *Service) handleExistingPatient(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	candidates := sess.Context.Candidates
	choice, ok := parseChoice(text)
	if !ok || choice > len(candidates)+1 {
		return sess.State, sess.Context, []string{promptExistingPatients(candidates)}
	}
	if choice == len(candidates)+1 {
		next := sess.Context
		next.ForOther = true
		return StateAskFamilyMemberName, next, []string{promptFamilyName}
	}

	picked := candidates[choice-1]
	next := sess.Context
	next.PatientID = &picked.ID
	next.PatientName = picked.Name
	next.Candidates = nil
	return s.enterDoctorSelection(ctx, sess, next)
}

func (s *Service) handleFamilyName(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	name := collapseSpaces(text)
	if name == "" {
		return sess.State, sess.Context, []string{promptFamilyName}
	}

	next := sess.Context
	next.FamilyName = name

	if next.ForOther {
		return StateAskFamilyRelationship, next, []string{promptRelationships(name)}
	}

	// Booking for themselves: register with a self contact and move on.
	created, err := s.directory.CreateWithContact(ctx, sess.ClinicID, name, sess.Phone, patient.RelationshipSelf)
	if err != nil {
		s.logger.Error().Err(err).Msg("self patient registration failed")
		return sess.State, sess.Context, []string{promptApology}
	}
	next.PatientID = &created.ID
	next.PatientName = created.FullName
	return s.enterDoctorSelection(ctx, sess, next)
}

func (s *Service) handleFamilyRelationship(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	choice, ok := parseChoice(text)
	if !ok || choice > len(patient.Relationships) {
		return sess.State, sess.Context, []string{promptRelationships(sess.Context.FamilyName)}
	}
	relationship := patient.Relationships[choice-1]

	created, err := s.directory.CreateWithContact(ctx, sess.ClinicID, sess.Context.FamilyName, sess.Phone, relationship)
	if err != nil {
		s.logger.Error().Err(err).Msg("family patient registration failed")
		return sess.State, sess.Context, []string{promptApology}
	}

	next := sess.Context
	next.PatientID = &created.ID
	next.PatientName = created.FullName
	return s.enterDoctorSelection(ctx, sess, next)
}

// enterDoctorSelection loads the clinic's active doctors and presents the
// numbered list.
func (s *Service) enterDoctorSelection(ctx context.Context, sess *Session, next Context) (State, Context, []string) {
	var doctors []scheduling.Doctor
	err := s.retryRead(ctx, func() error {
		var err error
		doctors, err = s.scheduler.ListDoctors(ctx, sess.ClinicID)
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("doctor listing failed")
		return sess.State, sess.Context, []string{promptApology}
	}
	if len(doctors) == 0 {
		return StateIdle, Context{}, []string{"Sorry, no doctors are currently taking bookings. Please call the clinic."}
	}
	if len(doctors) > maxListedDoctors {
		doctors = doctors[:maxListedDoctors]
	}

	options := make([]DoctorOption, 0, len(doctors))
	for _, d := range doctors {
		options = append(options, DoctorOption{ID: d.ID, Name: d.FullName})
	}
	next.Doctors = options
	return StateAskDoctor, next, []string{promptDoctors(options)}
}

func (s *Service) handleDoctor(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	options := sess.Context.Doctors
	choice, ok := parseChoice(text)
	if !ok || choice > len(options) {
		return sess.State, sess.Context, []string{promptDoctors(options)}
	}

	picked := options[choice-1]
	next := sess.Context
	next.DoctorID = &picked.ID
	next.DoctorName = picked.Name
	next.Doctors = nil
	return StateAskDate, next, []string{promptDatePrompt}
}

func (s *Service) handleDate(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	loc, err := s.scheduler.ClinicLocation(ctx, sess.ClinicID)
	if err != nil {
		s.logger.Error().Err(err).Msg("clinic zone lookup failed")
		return sess.State, sess.Context, []string{promptApology}
	}

	day, ok := parseDate(text, s.now(), loc)
	if !ok {
		return sess.State, sess.Context, []string{promptDateRetry}
	}

	slots, err := s.slotsFor(ctx, sess.ClinicID, *sess.Context.DoctorID, day)
	if err != nil {
		s.logger.Error().Err(err).Msg("availability generation failed")
		return sess.State, sess.Context, []string{promptApology}
	}
	if len(slots) == 0 {
		return sess.State, sess.Context, []string{promptNoSlots}
	}

	next := sess.Context
	next.Date = day.Format("2006-01-02")
	next.Slots = slots
	return StateAskSlot, next, []string{promptSlots(slots, loc)}
}

func (s *Service) handleSlot(ctx context.Context, sess *Session, text string) (State, Context, []string) {
	slots := sess.Context.Slots
	loc, err := s.scheduler.ClinicLocation(ctx, sess.ClinicID)
	if err != nil {
		s.logger.Error().Err(err).Msg("clinic zone lookup failed")
		return sess.State, sess.Context, []string{promptApology}
	}

	choice, ok := parseChoice(text)
	if !ok || choice > len(slots) {
		return sess.State, sess.Context, []string{promptSlots(slots, loc)}
	}

	picked := slots[choice-1]
	_, err = s.scheduler.CreateAppointment(ctx, sess.ClinicID, *sess.Context.DoctorID, *sess.Context.PatientID, picked.Range(), scheduling.CreateMeta{
		Mode:   "in_person",
		Source: "conversation",
	})
	if err == nil {
		confirmation := promptConfirmation(sess.Context.PatientName, sess.Context.DoctorName, picked, loc)
		// Terminal transition: the flow is done and the context resets so
		// the next message starts fresh.
		return StateIdle, Context{}, []string{confirmation}
	}

	if isSlotLoss(err) {
		// Lost the slot between offer and commit: refresh availability for
		// the same date and stay here. The only retry bound is the user
		// giving up.
		day, parseOK := parseDate(sess.Context.Date, s.now(), loc)
		if !parseOK {
			return StateAskDate, sess.Context, []string{promptDateRetry}
		}
		fresh, genErr := s.slotsFor(ctx, sess.ClinicID, *sess.Context.DoctorID, day)
		if genErr != nil {
			s.logger.Error().Err(genErr).Msg("availability refresh after slot loss failed")
			return sess.State, sess.Context, []string{promptApology}
		}
		if len(fresh) == 0 {
			next := sess.Context
			next.Slots = nil
			return StateAskDate, next, []string{promptNoSlots}
		}
		next := sess.Context
		next.Slots = fresh
		return StateAskSlot, next, []string{promptSlotTaken, promptSlots(fresh, loc)}
	}

	s.logger.Error().Err(err).Msg("booking commit failed")
	return sess.State, sess.Context, []string{promptApology}
}

// isSlotLoss groups the outcomes the flow answers with a refreshed slot
// list: advisory rejections and true commit races alike.
func isSlotLoss(err error) bool {
	if _, ok := scheduling.IsSlotUnavailable(err); ok {
		return true
	}
	return errors.Is(err, scheduling.ErrStructuralConflict) || errors.Is(err, scheduling.ErrDoctorBusy)
}

func (s *Service) slotsFor(ctx context.Context, clinicID, doctorID uuid.UUID, day time.Time) ([]scheduling.Slot, error) {
	var slots []scheduling.Slot
	err := s.retryRead(ctx, func() error {
		var err error
		slots, err = s.scheduler.GenerateSlots(ctx, clinicID, doctorID, &day)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(slots) > maxListedSlots {
		slots = slots[:maxListedSlots]
	}
	return slots, nil
}

// retryRead retries transient read failures a bounded number of times.
// Domain errors (not-found, validation) are never retried.
func (s *Service) retryRead(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readRetryDelay):
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, scheduling.ErrClinicNotFound),
		errors.Is(err, scheduling.ErrDoctorNotFound),
		errors.Is(err, scheduling.ErrPatientNotFound),
		errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, patient.ErrNotFound),
		errors.Is(err, patient.ErrUnknownRelationship),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var vErr *scheduling.ValidationError
	return !errors.As(err, &vErr)
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
