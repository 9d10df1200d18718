package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "carekeeper/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
//
// Justification: pure function enforcing a domain invariant at trust boundaries.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseUserID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseUserID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects urn form", func(t *testing.T) {
		_, err := ParseRecordID("urn:uuid:" + uuid.NewString())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
	})
}

// TestParseID_SecurityInvariants validates rejection of hostile input.
//
// Justification: trust boundary invariants; parsing must reject attack
// vectors at API entry points.
func TestParseID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"sql injection", "'; DROP TABLE users;--"},
		{"null byte suffix", uuid.NewString() + "\x00"},
		{"path traversal", "../../etc/passwd"},
		{"oversized", strings.Repeat("a", 4096)},
		{"whitespace padded", " " + uuid.NewString() + " "},
	}

	parsers := map[string]func(string) error{
		"user":    func(s string) error { _, err := ParseUserID(s); return err },
		"audit":   func(s string) error { _, err := ParseAuditRecordID(s); return err },
		"consent": func(s string) error { _, err := ParseConsentEventID(s); return err },
		"record":  func(s string) error { _, err := ParseRecordID(s); return err },
	}

	for _, tt := range tests {
		for pname, parse := range parsers {
			t.Run(pname+"/"+tt.name, func(t *testing.T) {
				err := parse(tt.input)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			})
		}
	}
}

func TestParseResourceID(t *testing.T) {
	t.Run("accepts opaque identifier", func(t *testing.T) {
		id, err := ParseResourceID("appt-2024-0001")
		require.NoError(t, err)
		assert.Equal(t, ResourceID("appt-2024-0001"), id)
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		id, err := ParseResourceID("  exam-7 ")
		require.NoError(t, err)
		assert.Equal(t, ResourceID("exam-7"), id)
	})

	for _, input := range []string{"", "   ", "a b", "x\x00y", strings.Repeat("r", maxResourceIDLength+1)} {
		_, err := ParseResourceID(input)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "input %q", input)
	}
}

func TestParseRole(t *testing.T) {
	for _, r := range []Role{RolePatient, RoleDoctor, RoleSecretary, RoleAdmin} {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	for _, input := range []string{"", "Doctor", "nurse", "superuser"} {
		_, err := ParseRole(input)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "input %q", input)
	}
}

// TestResourceClassification pins which types are clinical and which are
// administrative. The two sets must never overlap.
func TestResourceClassification(t *testing.T) {
	for _, rt := range ClinicalTypes() {
		assert.True(t, rt.IsClinical(), rt)
		assert.False(t, rt.IsAdministrative(), rt)
	}
	for _, rt := range []ResourceType{ResourceAppointments, ResourcePatientContacts, ResourceUserDirectory} {
		assert.True(t, rt.IsAdministrative(), rt)
		assert.False(t, rt.IsClinical(), rt)
	}
	assert.False(t, ResourceMoodEntries.IsDoctorAuthored())
	assert.True(t, ResourceDoctorNotes.IsDoctorAuthored())

	_, err := ParseResourceType("billing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestParseOperationAndConsentType(t *testing.T) {
	op, err := ParseOperation("delete")
	require.NoError(t, err)
	assert.True(t, op.IsMutation())
	assert.False(t, OperationRead.IsMutation())

	_, err = ParseOperation("purge")
	assert.Error(t, err)

	ct, err := ParseConsentType("sensitive_health_data")
	require.NoError(t, err)
	assert.Equal(t, ConsentSensitiveHealthData, ct)

	_, err = ParseConsentType("newsletter")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
