// Package patient is the directory the conversational flow books on behalf
// of: patients and the phone contacts that link them to counterparties.
package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound            = errors.New("patient not found")
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// Relationship labels a contact's relation to the patient, stored lowercase.
const (
	RelationshipSelf     = "self"
	RelationshipSon      = "son"
	RelationshipDaughter = "daughter"
	RelationshipWife     = "wife"
	RelationshipHusband  = "husband"
	RelationshipMother   = "mother"
	RelationshipFather   = "father"
	RelationshipOther    = "other"
)

// Relationships lists the non-self choices in the order the conversational
// flow presents them.
var Relationships = []string{
	RelationshipSon,
	RelationshipDaughter,
	RelationshipWife,
	RelationshipHusband,
	RelationshipMother,
	RelationshipFather,
	RelationshipOther,
}

// NormalizeRelationship lowercases and validates a relationship label.
func NormalizeRelationship(raw string) (string, bool) {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == RelationshipSelf {
		return label, true
	}
	for _, r := range Relationships {
		if r == label {
			return label, true
		}
	}
	return "", false
}

type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	FullName  string
	CreatedAt time.Time
}

type Contact struct {
	ID           uuid.UUID
	ClinicID     uuid.UUID
	PatientID    uuid.UUID
	Phone        string
	Relationship string
}

// Directory is the boundary the booking flow depends on.
type Directory interface {
	// FindByPhone returns the patients already linked to a phone within the
	// clinic, in stable order.
	FindByPhone(ctx context.Context, clinicID uuid.UUID, phone string) ([]Patient, error)

	// CreateWithContact creates a patient and its phone contact in one
	// all-or-nothing transaction.
	CreateWithContact(ctx context.Context, clinicID uuid.UUID, fullName, phone, relationship string) (*Patient, error)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PgDirectory struct {
	db txBeginner
}

func NewPgDirectory(db txBeginner) *PgDirectory {
	return &PgDirectory{db: db}
}

func (d *PgDirectory) FindByPhone(ctx context.Context, clinicID uuid.UUID, phone string) ([]Patient, error) {
	rows, err := d.db.Query(ctx, `
		SELECT p.id, p.clinic_id, p.full_name, p.created_at
		FROM patients p
		JOIN patient_contacts c ON c.patient_id = p.id
		WHERE c.clinic_id = $1 AND c.phone = $2
		ORDER BY p.full_name, p.id
	`, clinicID, phone)
	if err != nil {
		return nil, fmt.Errorf("find patients by phone: %w", err)
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.ClinicID, &p.FullName, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (d *PgDirectory) CreateWithContact(ctx context.Context, clinicID uuid.UUID, fullName, phone, relationship string) (*Patient, error) {
	label, ok := NormalizeRelationship(relationship)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelationship, relationship)
	}

	tx, err := d.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	p := Patient{ID: uuid.New(), ClinicID: clinicID, FullName: fullName}
	err = tx.QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, full_name, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at
	`, p.ID, p.ClinicID, p.FullName).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert patient: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO patient_contacts (id, clinic_id, patient_id, phone, relationship)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), clinicID, p.ID, phone, label)
	if err != nil {
		return nil, fmt.Errorf("insert patient contact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit patient+contact: %w", err)
	}
	return &p, nil
}
