package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinic-scheduling/internal/metrics"
	"github.com/clinicore/clinic-scheduling/internal/scheduling"
	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// stubRepo embeds the interface so only the methods a test exercises need
// real implementations; anything else panics loudly.
type stubRepo struct {
	scheduling.Repository
	clinic   scheduling.Clinic
	doctor   scheduling.Doctor
	rules    []scheduling.WorkingHourRule
	settings *scheduling.DoctorSettings
}

func (r *stubRepo) GetClinicByID(_ context.Context, id uuid.UUID) (*scheduling.Clinic, error) {
	if id != r.clinic.ID {
		return nil, scheduling.ErrClinicNotFound
	}
	c := r.clinic
	return &c, nil
}

func (r *stubRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*scheduling.Doctor, error) {
	if id != r.doctor.ID {
		return nil, scheduling.ErrDoctorNotFound
	}
	d := r.doctor
	return &d, nil
}

func (r *stubRepo) ListActiveDoctors(_ context.Context, _ uuid.UUID) ([]scheduling.Doctor, error) {
	return []scheduling.Doctor{r.doctor}, nil
}

func (r *stubRepo) ListWorkingHours(_ context.Context, _ uuid.UUID) ([]scheduling.WorkingHourRule, error) {
	return r.rules, nil
}

func (r *stubRepo) GetSettings(_ context.Context, _ uuid.UUID) (*scheduling.DoctorSettings, error) {
	return r.settings, nil
}

func (r *stubRepo) ListBlocked(_ context.Context, _ uuid.UUID) ([]scheduling.BlockedInterval, error) {
	return nil, nil
}

func (r *stubRepo) ListBlockedOverlapping(_ context.Context, _ uuid.UUID, _ timerange.Range) ([]scheduling.BlockedInterval, error) {
	return nil, nil
}

func (r *stubRepo) ListActiveOverlapping(_ context.Context, _ uuid.UUID, _ timerange.Range, _ *uuid.UUID) ([]scheduling.Appointment, error) {
	return nil, nil
}

type noopLocker struct{ mu sync.Mutex }

func (l *noopLocker) WithLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

func (l *noopLocker) WithLockWait(ctx context.Context, key string, fn func(context.Context) error) error {
	return l.WithLock(ctx, key, fn)
}

type apiFixture struct {
	handler  http.Handler
	clinicID uuid.UUID
	doctorID uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	clinicID := uuid.New()
	doctorID := uuid.New()
	repo := &stubRepo{
		clinic: scheduling.Clinic{ID: clinicID, Name: "Downtown Clinic", Timezone: "UTC"},
		doctor: scheduling.Doctor{ID: doctorID, ClinicID: clinicID, FullName: "Dr. Asha Rao", Active: true},
		rules:  []scheduling.WorkingHourRule{{ID: uuid.New(), Weekday: 1, StartMinute: 9 * 60, EndMinute: 12 * 60}},
	}

	svc := scheduling.NewService(repo, &noopLocker{}, zerolog.Nop(), metrics.New(prometheus.NewRegistry())).
		WithClock(func() time.Time { return time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC) })

	handler := NewRouter(RouterConfig{
		Scheduling:   svc,
		Conversation: stubConversation{},
		Logger:       zerolog.Nop(),
		Env:          "test",
	})
	return &apiFixture{handler: handler, clinicID: clinicID, doctorID: doctorID}
}

type stubConversation struct{}

func (stubConversation) ProcessInbound(_ context.Context, _ uuid.UUID, phone, text string) ([]string, error) {
	return []string{"echo: " + text + " from " + phone}, nil
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestListDoctors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/clinics/"+f.clinicID.String()+"/doctors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doctors []DoctorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, "Dr. Asha Rao", doctors[0].FullName)
}

func TestListSlots(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/clinics/"+f.clinicID.String()+"/doctors/"+f.doctorID.String()+"/slots?date=2025-03-10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var slots []SlotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	// Default 15-minute slots across a 09:00-12:00 Monday shift, minus the
	// 60-minute lead time (clock is 06:00 UTC so nothing is cut).
	assert.Len(t, slots, 12)
}

func TestListSlotsRejectsBadDate(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/clinics/"+f.clinicID.String()+"/doctors/"+f.doctorID.String()+"/slots?date=next-tuesday", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_date", resp.Error)
}

func TestUnknownDoctorIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/clinics/"+f.clinicID.String()+"/doctors/"+uuid.NewString()+"/slots", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doctor_not_found", resp.Error)
}

func TestCreateAppointmentRejectsBadBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/clinics/"+f.clinicID.String()+"/appointments", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/clinics/"+f.clinicID.String()+"/appointments",
		`{"doctor_id":"nope","patient_id":"`+uuid.NewString()+`","start":"2025-03-10T09:00:00Z","end":"2025-03-10T09:15:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_doctor_id", resp.Error)
}

func TestGetSettingsFallsBackToDefaults(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/clinics/"+f.clinicID.String()+"/doctors/"+f.doctorID.String()+"/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SettingsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, scheduling.DefaultSlotMinutes, resp.SlotMinutes)
	assert.Equal(t, scheduling.DefaultLeadTimeMinutes, resp.LeadTimeMinutes)
}

func TestInboundMessageWebhook(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/clinics/"+f.clinicID.String()+"/messages/inbound",
		`{"from":"+15550001111","text":"book"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp InboundMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Replies, 1)
	assert.Contains(t, resp.Replies[0], "book")

	rec = f.do(t, http.MethodPost, "/clinics/"+f.clinicID.String()+"/messages/inbound", `{"text":"book"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveness(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Env)
}

func TestRequestIDPropagates(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
