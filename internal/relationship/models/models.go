// Package models defines care-team assignments: which doctor currently
// treats which patient.
package models

import (
	"time"

	"carekeeper/pkg/domain"
)

// Assignment links a patient to their single current doctor.
type Assignment struct {
	PatientID  domain.UserID `json:"patient_id"`
	DoctorID   domain.UserID `json:"doctor_id"`
	AssignedAt time.Time     `json:"assigned_at"`
}
