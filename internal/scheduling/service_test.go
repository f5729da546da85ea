package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/metrics"
	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// memRepo is an in-memory Repository whose CreateAppointment enforces the
// same no-overlap exclusion the Postgres constraint provides, so race tests
// exercise the real commit semantics.
type memRepo struct {
	mu           sync.Mutex
	clinics      map[uuid.UUID]Clinic
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]uuid.UUID // patient -> clinic
	rules        []WorkingHourRule
	settings     map[uuid.UUID]DoctorSettings
	blocked      []BlockedInterval
	appointments map[uuid.UUID]Appointment
	events       []EventLog

	// failCreates forces the next n CreateAppointment calls to report a
	// structural conflict even without a stored overlap.
	failCreates int
}

func newMemRepo() *memRepo {
	return &memRepo{
		clinics:      make(map[uuid.UUID]Clinic),
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]uuid.UUID),
		settings:     make(map[uuid.UUID]DoctorSettings),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *memRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinics[id]
	if !ok {
		return nil, ErrClinicNotFound
	}
	return &c, nil
}

func (m *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *memRepo) ListActiveDoctors(_ context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doctor
	for _, d := range m.doctors {
		if d.ClinicID == clinicID && d.Active {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) PatientExists(_ context.Context, clinicID, patientID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.patients[patientID]
	return ok && c == clinicID, nil
}

func (m *memRepo) ListWorkingHours(_ context.Context, doctorID uuid.UUID) ([]WorkingHourRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WorkingHourRule
	for _, r := range m.rules {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) CreateWorkingHour(_ context.Context, rule WorkingHourRule) (*WorkingHourRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	m.rules = append(m.rules, rule)
	return &rule, nil
}

func (m *memRepo) DeleteWorkingHour(_ context.Context, clinicID, ruleID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.rules {
		if r.ID == ruleID && r.ClinicID == clinicID {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return ErrRuleNotFound
}

func (m *memRepo) GetSettings(_ context.Context, doctorID uuid.UUID) (*DoctorSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[doctorID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memRepo) UpsertSettings(_ context.Context, settings DoctorSettings) (*DoctorSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[settings.DoctorID] = settings
	return &settings, nil
}

func (m *memRepo) ListBlocked(_ context.Context, doctorID uuid.UUID) ([]BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BlockedInterval
	for _, b := range m.blocked {
		if b.DoctorID == doctorID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) ListBlockedOverlapping(_ context.Context, doctorID uuid.UUID, window timerange.Range) ([]BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BlockedInterval
	for _, b := range m.blocked {
		if b.DoctorID == doctorID && b.Range.Overlaps(window) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memRepo) CreateBlocked(_ context.Context, block BlockedInterval) (*BlockedInterval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	m.blocked = append(m.blocked, block)
	return &block, nil
}

func (m *memRepo) DeleteBlocked(_ context.Context, clinicID, blockID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.blocked {
		if b.ID == blockID && b.ClinicID == clinicID {
			m.blocked = append(m.blocked[:i], m.blocked[i+1:]...)
			return nil
		}
	}
	return ErrBlockNotFound
}

func (m *memRepo) GetAppointmentByID(_ context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.ClinicID != clinicID {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memRepo) ListActiveOverlapping(_ context.Context, doctorID uuid.UUID, window timerange.Range, excludeID *uuid.UUID) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || !a.Status.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.Range.Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) CreateAppointment(_ context.Context, appt Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreates > 0 {
		m.failCreates--
		return nil, ErrStructuralConflict
	}
	if appt.Status.Active() {
		for _, existing := range m.appointments {
			if existing.DoctorID == appt.DoctorID && existing.Status.Active() && existing.Range.Overlaps(appt.Range) {
				return nil, ErrStructuralConflict
			}
		}
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	m.appointments[appt.ID] = appt
	return &appt, nil
}

func (m *memRepo) UpdateAppointment(_ context.Context, appt Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.appointments[appt.ID]
	if !ok || current.ClinicID != appt.ClinicID {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status.Active() {
		for id, existing := range m.appointments {
			if id == appt.ID {
				continue
			}
			if existing.DoctorID == current.DoctorID && existing.Status.Active() && existing.Range.Overlaps(appt.Range) {
				return nil, ErrStructuralConflict
			}
		}
	}
	current.Range = appt.Range
	current.Status = appt.Status
	current.Notes = appt.Notes
	current.UpdatedAt = time.Now()
	m.appointments[appt.ID] = current
	return &current, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

// memLocker serializes critical sections per key with local mutexes.
type memLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMemLocker() *memLocker {
	return &memLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *memLocker) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locks[key]; !ok {
		l.locks[key] = &sync.Mutex{}
	}
	return l.locks[key]
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	kl := l.keyLock(key)
	kl.Lock()
	defer kl.Unlock()
	return fn(ctx)
}

func (l *memLocker) WithLockWait(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.WithLock(ctx, key, fn)
}

// Fixture: one clinic in New York, one doctor working Mon 09:00-12:00, one
// registered patient, service clock pinned to Monday 2025-03-10 06:00 local.

type fixture struct {
	svc      *Service
	repo     *memRepo
	clinicID uuid.UUID
	doctorID uuid.UUID
	patient  uuid.UUID
	loc      *time.Location
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	repo := newMemRepo()
	clinicID := uuid.New()
	doctorID := uuid.New()
	patientID := uuid.New()

	repo.clinics[clinicID] = Clinic{ID: clinicID, Name: "Riverside Clinic", Timezone: "America/New_York"}
	repo.doctors[doctorID] = Doctor{ID: doctorID, ClinicID: clinicID, FullName: "Dr. Asha Rao", Active: true}
	repo.patients[patientID] = clinicID
	repo.rules = append(repo.rules, WorkingHourRule{
		ID: uuid.New(), ClinicID: clinicID, DoctorID: doctorID,
		Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60,
	})
	repo.settings[doctorID] = DoctorSettings{
		DoctorID: doctorID, ClinicID: clinicID,
		SlotMinutes: 30, LeadTimeMinutes: 0, BufferMinutes: 0,
	}

	now := time.Date(2025, 3, 10, 6, 0, 0, 0, loc)
	svc := NewService(repo, newMemLocker(), zerolog.Nop(), metrics.New(prometheus.NewRegistry())).
		WithClock(func() time.Time { return now })

	return &fixture{svc: svc, repo: repo, clinicID: clinicID, doctorID: doctorID, patient: patientID, loc: loc, now: now}
}

func (f *fixture) rng(h, m, lenMin int) timerange.Range {
	start := time.Date(2025, 3, 10, h, m, 0, 0, f.loc)
	return timerange.Range{Start: start, End: start.Add(time.Duration(lenMin) * time.Minute)}
}

func TestGenerateSlotsUsesClinicDay(t *testing.T) {
	f := newFixture(t)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, f.loc)
	slots, err := f.svc.GenerateSlots(context.Background(), f.clinicID, f.doctorID, &day)
	require.NoError(t, err)
	require.Len(t, slots, 6)
	assert.Equal(t, f.rng(9, 0, 30).Start, slots[0].Start)
	assert.Equal(t, f.rng(11, 30, 30).Start, slots[5].Start)
}

func TestGenerateSlotsDefaultsToToday(t *testing.T) {
	f := newFixture(t)

	slots, err := f.svc.GenerateSlots(context.Background(), f.clinicID, f.doctorID, nil)
	require.NoError(t, err)
	assert.Len(t, slots, 6, "clock is pinned to the Monday the rule covers")
}

func TestGenerateSlotsUnknownDoctor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateSlots(context.Background(), f.clinicID, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestGenerateSlotsWrongClinicReadsAsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateSlots(context.Background(), uuid.New(), f.doctorID, nil)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestCreateAppointmentHappyPath(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, "staff", appt.Source)

	require.Len(t, f.repo.events, 1)
	assert.Equal(t, EventAppointmentBooked, f.repo.events[0].EventType)
}

func TestCreateAppointmentRejectionReasons(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(13, 0, 30), CreateMeta{})
	unavailable, ok := IsSlotUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonOutsideWorkingHours, unavailable.Reason)

	f.repo.blocked = append(f.repo.blocked, BlockedInterval{
		ID: uuid.New(), ClinicID: f.clinicID, DoctorID: f.doctorID, Range: f.rng(9, 0, 60),
	})
	_, err = f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(9, 0, 30), CreateMeta{})
	unavailable, ok = IsSlotUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonBlocked, unavailable.Reason)

	_, err = f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	require.NoError(t, err)
	_, err = f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 15, 30), CreateMeta{})
	unavailable, ok = IsSlotUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonOverlapsAppointment, unavailable.Reason)
}

func TestCreateAppointmentUnknownPatient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, uuid.New(), f.rng(10, 0, 30), CreateMeta{})
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestCreateAppointmentStructuralConflict(t *testing.T) {
	f := newFixture(t)
	f.repo.failCreates = 1

	_, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	assert.ErrorIs(t, err, ErrStructuralConflict)
}

func TestConcurrentBookingsExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	requested := f.rng(10, 0, 30)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, requested, CreateMeta{})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		_, unavailable := IsSlotUnavailable(err)
		conflict := errors.Is(err, ErrStructuralConflict) || errors.Is(err, ErrDoctorBusy)
		assert.True(t, unavailable || conflict, "loser got unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins, "exactly one concurrent booking must win")

	// Invariant: no two active appointments for the doctor overlap.
	var active []Appointment
	for _, a := range f.repo.appointments {
		if a.DoctorID == f.doctorID && a.Status.Active() {
			active = append(active, a)
		}
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			assert.False(t, active[i].Range.Overlaps(active[j].Range))
		}
	}
}

func TestUpdateAppointmentReschedule(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	require.NoError(t, err)

	// Moving within its own original window must not self-conflict.
	moved := f.rng(10, 15, 30)
	updated, err := f.svc.UpdateAppointment(context.Background(), f.clinicID, appt.ID, AppointmentChanges{Range: &moved})
	require.NoError(t, err)
	assert.Equal(t, moved, updated.Range)

	// Moving onto another appointment is rejected.
	_, err = f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(11, 0, 30), CreateMeta{})
	require.NoError(t, err)
	clash := f.rng(11, 0, 30)
	_, err = f.svc.UpdateAppointment(context.Background(), f.clinicID, appt.ID, AppointmentChanges{Range: &clash})
	unavailable, ok := IsSlotUnavailable(err)
	require.True(t, ok)
	assert.Equal(t, ReasonOverlapsAppointment, unavailable.Reason)
}

func TestUpdateAppointmentStatusOnly(t *testing.T) {
	f := newFixture(t)

	appt, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	require.NoError(t, err)

	cancelled := StatusCancelled
	updated, err := f.svc.UpdateAppointment(context.Background(), f.clinicID, appt.ID, AppointmentChanges{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)

	// The freed range is bookable again.
	_, err = f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	assert.NoError(t, err)

	bogus := AppointmentStatus("archived")
	_, err = f.svc.UpdateAppointment(context.Background(), f.clinicID, appt.ID, AppointmentChanges{Status: &bogus})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestBufferExcludesAdjacentSlots(t *testing.T) {
	f := newFixture(t)
	f.repo.settings[f.doctorID] = DoctorSettings{
		DoctorID: f.doctorID, ClinicID: f.clinicID,
		SlotMinutes: 30, LeadTimeMinutes: 0, BufferMinutes: 15,
	}

	_, err := f.svc.CreateAppointment(context.Background(), f.clinicID, f.doctorID, f.patient, f.rng(10, 0, 30), CreateMeta{})
	require.NoError(t, err)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, f.loc)
	slots, err := f.svc.GenerateSlots(context.Background(), f.clinicID, f.doctorID, &day)
	require.NoError(t, err)

	starts := make([]string, 0, len(slots))
	for _, s := range slots {
		starts = append(starts, s.Start.In(f.loc).Format("15:04"))
	}
	assert.Equal(t, []string{"09:00", "11:00", "11:30"}, starts)
}

func TestPutSettingsValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PutSettings(context.Background(), DoctorSettings{
		DoctorID: f.doctorID, ClinicID: f.clinicID, SlotMinutes: 0,
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "slot_minutes", vErr.Field)
}

func TestGetSettingsDefaultsWhenAbsent(t *testing.T) {
	f := newFixture(t)
	delete(f.repo.settings, f.doctorID)

	got, err := f.svc.GetSettings(context.Background(), f.clinicID, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, DefaultSlotMinutes, got.SlotMinutes)
	assert.Equal(t, DefaultLeadTimeMinutes, got.LeadTimeMinutes)
	assert.Equal(t, DefaultBufferMinutes, got.BufferMinutes)
}
