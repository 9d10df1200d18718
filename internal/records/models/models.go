// Package models defines medical records. Records outlive the accounts
// they belong to: anonymizing an account never touches them.
package models

import (
	"encoding/json"
	"time"

	"carekeeper/pkg/domain"
)

// MedicalRecord is one piece of clinical content. AuthorID is the doctor
// who wrote it, or the patient for mood entries.
type MedicalRecord struct {
	ID               domain.RecordID     `json:"id"`
	PatientID        domain.UserID       `json:"patient_id"`
	Type             domain.ResourceType `json:"type"`
	AuthorID         domain.UserID       `json:"author_id"`
	VisibleToPatient bool                `json:"visible_to_patient"`
	Content          json.RawMessage     `json:"content"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}
