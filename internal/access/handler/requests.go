package handler

import (
	"strings"

	"carekeeper/internal/access"
	"carekeeper/pkg/domain"
	dErrors "carekeeper/pkg/domain-errors"
)

// EvaluateRequest is the HTTP request body for POST /access/evaluate.
type EvaluateRequest struct {
	Resource  ResourceRequest `json:"resource"`
	Operation string          `json:"operation"`

	parsedResource  access.Resource
	parsedOperation domain.Operation
}

type ResourceRequest struct {
	Type             string `json:"type"`
	ID               string `json:"id"`
	OwnerPatientID   string `json:"owner_patient_id"`
	AssignedDoctorID string `json:"assigned_doctor_id"`
	VisibleToPatient *bool  `json:"visible_to_patient"`
}

// Validate parses the request. Implements httputil.Validatable.
func (r *EvaluateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	t, err := domain.ParseResourceType(strings.TrimSpace(r.Resource.Type))
	if err != nil {
		return err
	}
	op, err := domain.ParseOperation(strings.TrimSpace(r.Operation))
	if err != nil {
		return err
	}
	res := access.Resource{Type: t, VisibleToPatient: r.Resource.VisibleToPatient}
	if strings.TrimSpace(r.Resource.ID) != "" {
		if res.ID, err = domain.ParseResourceID(r.Resource.ID); err != nil {
			return err
		}
	}
	if res.OwnerPatientID, err = optionalUserID(r.Resource.OwnerPatientID); err != nil {
		return err
	}
	if res.AssignedDoctorID, err = optionalUserID(r.Resource.AssignedDoctorID); err != nil {
		return err
	}
	r.parsedResource = res
	r.parsedOperation = op
	return nil
}

func optionalUserID(s string) (*domain.UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	id, err := domain.ParseUserID(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// DecisionResponse is the body of a successful evaluation, allowed or not.
type DecisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}
