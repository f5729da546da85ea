package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/clinic-scheduling/internal/timerange"
)

// exclusionViolation is the SQLSTATE raised by the appointments no-overlap
// exclusion constraint.
const exclusionViolation = "23P01"

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it too, which is what the repository tests run against.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

// Helpers

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Timezone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.ClinicID, &d.FullName, &d.Specialty, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.PatientID,
		&a.Range.Start,
		&a.Range.End,
		&a.Status,
		&a.Mode,
		&a.Source,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return ErrStructuralConflict
	}
	return err
}

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, timezone, created_at
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, full_name, specialty, active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListActiveDoctors(ctx context.Context, clinicID uuid.UUID) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, clinic_id, full_name, specialty, active, created_at, updated_at
		FROM doctors
		WHERE clinic_id = $1 AND active
		ORDER BY full_name, id
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) PatientExists(ctx context.Context, clinicID, patientID uuid.UUID) (bool, error) {
	var one int
	err := r.db.QueryRow(ctx, `
		SELECT 1 FROM patients WHERE id = $1 AND clinic_id = $2
	`, patientID, clinicID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *PgRepository) ListWorkingHours(ctx context.Context, doctorID uuid.UUID) ([]WorkingHourRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, clinic_id, doctor_id, weekday, start_minute, end_minute
		FROM working_hour_rules
		WHERE doctor_id = $1
		ORDER BY weekday, start_minute
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WorkingHourRule
	for rows.Next() {
		var rule WorkingHourRule
		if err := rows.Scan(&rule.ID, &rule.ClinicID, &rule.DoctorID, &rule.Weekday, &rule.StartMinute, &rule.EndMinute); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateWorkingHour(ctx context.Context, rule WorkingHourRule) (*WorkingHourRule, error) {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO working_hour_rules (id, clinic_id, doctor_id, weekday, start_minute, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rule.ID, rule.ClinicID, rule.DoctorID, rule.Weekday, rule.StartMinute, rule.EndMinute)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *PgRepository) DeleteWorkingHour(ctx context.Context, clinicID, ruleID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM working_hour_rules WHERE id = $1 AND clinic_id = $2
	`, ruleID, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PgRepository) GetSettings(ctx context.Context, doctorID uuid.UUID) (*DoctorSettings, error) {
	var s DoctorSettings
	err := r.db.QueryRow(ctx, `
		SELECT doctor_id, clinic_id, slot_minutes, lead_time_minutes, buffer_minutes
		FROM doctor_settings
		WHERE doctor_id = $1
	`, doctorID).Scan(&s.DoctorID, &s.ClinicID, &s.SlotMinutes, &s.LeadTimeMinutes, &s.BufferMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) UpsertSettings(ctx context.Context, settings DoctorSettings) (*DoctorSettings, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO doctor_settings (doctor_id, clinic_id, slot_minutes, lead_time_minutes, buffer_minutes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id) DO UPDATE
		SET slot_minutes = EXCLUDED.slot_minutes,
		    lead_time_minutes = EXCLUDED.lead_time_minutes,
		    buffer_minutes = EXCLUDED.buffer_minutes
	`, settings.DoctorID, settings.ClinicID, settings.SlotMinutes, settings.LeadTimeMinutes, settings.BufferMinutes)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *PgRepository) ListBlocked(ctx context.Context, doctorID uuid.UUID) ([]BlockedInterval, error) {
	return r.listBlocked(ctx, `
		SELECT id, clinic_id, doctor_id, start_time, end_time, reason
		FROM blocked_intervals
		WHERE doctor_id = $1
		ORDER BY start_time
	`, doctorID)
}

func (r *PgRepository) ListBlockedOverlapping(ctx context.Context, doctorID uuid.UUID, window timerange.Range) ([]BlockedInterval, error) {
	return r.listBlocked(ctx, `
		SELECT id, clinic_id, doctor_id, start_time, end_time, reason
		FROM blocked_intervals
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, window.Start, window.End)
}

func (r *PgRepository) listBlocked(ctx context.Context, query string, args ...any) ([]BlockedInterval, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedInterval
	for rows.Next() {
		var b BlockedInterval
		if err := rows.Scan(&b.ID, &b.ClinicID, &b.DoctorID, &b.Range.Start, &b.Range.End, &b.Reason); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateBlocked(ctx context.Context, block BlockedInterval) (*BlockedInterval, error) {
	if block.ID == uuid.Nil {
		block.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO blocked_intervals (id, clinic_id, doctor_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, block.ID, block.ClinicID, block.DoctorID, block.Range.Start, block.Range.End, block.Reason)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

func (r *PgRepository) DeleteBlocked(ctx context.Context, clinicID, blockID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM blocked_intervals WHERE id = $1 AND clinic_id = $2
	`, blockID, clinicID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, clinic_id, doctor_id, patient_id, start_time, end_time,
		       status, mode, source, notes, created_at, updated_at
		FROM appointments
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveOverlapping(ctx context.Context, doctorID uuid.UUID, window timerange.Range, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, clinic_id, doctor_id, patient_id, start_time, end_time,
		       status, mode, source, notes, created_at, updated_at
		FROM appointments
		WHERE doctor_id = $1
		  AND status IN ('scheduled', 'confirmed')
		  AND start_time < $3
		  AND end_time > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_time
	`, doctorID, window.Start, window.End, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, start_time, end_time,
		                          status, mode, source, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING id, clinic_id, doctor_id, patient_id, start_time, end_time,
		          status, mode, source, notes, created_at, updated_at
	`, appt.ID, appt.ClinicID, appt.DoctorID, appt.PatientID,
		appt.Range.Start, appt.Range.End, appt.Status, appt.Mode, appt.Source, appt.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return created, nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, appt Appointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $3,
		    end_time = $4,
		    status = $5,
		    notes = $6,
		    updated_at = now()
		WHERE id = $1 AND clinic_id = $2
		RETURNING id, clinic_id, doctor_id, patient_id, start_time, end_time,
		          status, mode, source, notes, created_at, updated_at
	`, appt.ID, appt.ClinicID, appt.Range.Start, appt.Range.End, appt.Status, appt.Notes)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapWriteError(err)
	}
	return updated, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
