package domain

import dErrors "carekeeper/pkg/domain-errors"

// ResourceType names a kind of data the engine guards.
type ResourceType string

const (
	// Administrative resources.
	ResourceAppointments    ResourceType = "appointments"
	ResourcePatientContacts ResourceType = "patient_contacts"
	ResourceUserDirectory   ResourceType = "user_directory"

	// Clinical resources (sensitive health data).
	ResourcePrescriptions ResourceType = "prescriptions"
	ResourceExams         ResourceType = "exams"
	ResourceMoodEntries   ResourceType = "mood_entries"
	ResourceDoctorNotes   ResourceType = "doctor_notes"

	// Compliance resources written by the engine itself.
	ResourceConsents           ResourceType = "consents"
	ResourceAccountLifecycle   ResourceType = "account_lifecycle"
	ResourceAuditTrail         ResourceType = "audit_trail"
	ResourcePatientAssignments ResourceType = "patient_assignments"
)

var administrativeTypes = map[ResourceType]bool{
	ResourceAppointments:    true,
	ResourcePatientContacts: true,
	ResourceUserDirectory:   true,
}

var clinicalTypes = map[ResourceType]bool{
	ResourcePrescriptions: true,
	ResourceExams:         true,
	ResourceMoodEntries:   true,
	ResourceDoctorNotes:   true,
}

// doctorAuthoredTypes are clinical types a doctor may create or update.
var doctorAuthoredTypes = map[ResourceType]bool{
	ResourcePrescriptions: true,
	ResourceExams:         true,
	ResourceDoctorNotes:   true,
}

var complianceTypes = map[ResourceType]bool{
	ResourceConsents:           true,
	ResourceAccountLifecycle:   true,
	ResourceAuditTrail:         true,
	ResourcePatientAssignments: true,
}

// ParseResourceType validates a resource type from external input.
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid resource type")
	}
	return t, nil
}

func (t ResourceType) IsValid() bool {
	return administrativeTypes[t] || clinicalTypes[t] || complianceTypes[t]
}

func (t ResourceType) IsAdministrative() bool { return administrativeTypes[t] }
func (t ResourceType) IsClinical() bool       { return clinicalTypes[t] }
func (t ResourceType) IsDoctorAuthored() bool { return doctorAuthoredTypes[t] }
func (t ResourceType) String() string         { return string(t) }

// ClinicalTypes returns the clinical resource types in a stable order.
func ClinicalTypes() []ResourceType {
	return []ResourceType{ResourcePrescriptions, ResourceExams, ResourceMoodEntries, ResourceDoctorNotes}
}

// Operation is what the caller intends to do with a resource.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ParseOperation validates an operation from external input.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OperationRead, OperationCreate, OperationUpdate, OperationDelete:
		return op, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid operation")
	}
}

func (o Operation) String() string { return string(o) }

// IsMutation reports whether the operation changes data.
func (o Operation) IsMutation() bool { return o != OperationRead }
