package recording

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"

	"github.com/ghyeongl/scribe-relay/logging"
)

// DefaultUserID owns patients added without a userId.
const DefaultUserID = "default-user"

// PatientInput is the writable part of a Patient.
type PatientInput struct {
	ID                  string `json:"id"`
	Name                string `json:"name" validate:"required"`
	Email               string `json:"email" validate:"omitempty,email"`
	Phone               string `json:"phone"`
	DateOfBirth         string `json:"dateOfBirth" validate:"required"`
	MedicalRecordNumber string `json:"medicalRecordNumber"`
	UserID              string `json:"userId"`
}

// PatientRegistry keeps patients in memory, keyed by id.
type PatientRegistry struct {
	mu       sync.RWMutex
	patients map[string]Patient
}

// NewPatientRegistry creates an empty registry.
func NewPatientRegistry() *PatientRegistry {
	return &PatientRegistry{patients: make(map[string]Patient)}
}

// Upsert inserts a patient or replaces the one with the same id.
// The original CreatedAt survives a replace.
func (r *PatientRegistry) Upsert(in PatientInput) (Patient, error) {
	name := norm.NFC.String(strings.Join(strings.Fields(in.Name), " "))
	if err := required("name", name); err != nil {
		return Patient{}, err
	}
	dob := strings.TrimSpace(in.DateOfBirth)
	if err := required("dateOfBirth", dob); err != nil {
		return Patient{}, err
	}

	p := Patient{
		ID:                  strings.TrimSpace(in.ID),
		Name:                name,
		Email:               strings.TrimSpace(in.Email),
		Phone:               strings.TrimSpace(in.Phone),
		DateOfBirth:         dob,
		MedicalRecordNumber: strings.TrimSpace(in.MedicalRecordNumber),
		UserID:              strings.TrimSpace(in.UserID),
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.UserID == "" {
		p.UserID = DefaultUserID
	}

	now := nowFunc().UTC()
	r.mu.Lock()
	if prev, ok := r.patients[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.patients[p.ID] = p
	r.mu.Unlock()

	logging.Sub("patients").Debug("Upsert", "patient", p.ID, "user", p.UserID)
	return p, nil
}

// Get returns a patient by id.
func (r *PatientRegistry) Get(id string) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return Patient{}, &NotFoundError{Kind: "patient", ID: id}
	}
	return p, nil
}

// ListByUser returns the patients owned by userID sorted by name.
func (r *PatientRegistry) ListByUser(userID string) ([]Patient, error) {
	if err := required("userId", strings.TrimSpace(userID)); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := lo.Filter(lo.Values(r.patients), func(p Patient, _ int) bool {
		return p.UserID == userID
	})
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
