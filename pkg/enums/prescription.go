package enums

import "fmt"

// PrescriptionStatus maps to the prescription_status enum in Postgres.
type PrescriptionStatus string

const (
	PrescriptionStatusUploaded PrescriptionStatus = "uploaded"
	PrescriptionStatusPending  PrescriptionStatus = "pending"
	PrescriptionStatusVerified PrescriptionStatus = "verified"
	PrescriptionStatusRejected PrescriptionStatus = "rejected"
)

var validPrescriptionStatuses = []PrescriptionStatus{
	PrescriptionStatusUploaded,
	PrescriptionStatusPending,
	PrescriptionStatusVerified,
	PrescriptionStatusRejected,
}

// String implements fmt.Stringer.
func (s PrescriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical prescription_status enum.
func (s PrescriptionStatus) IsValid() bool {
	for _, candidate := range validPrescriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsReviewDecision reports whether an administrator may set this status.
func (s PrescriptionStatus) IsReviewDecision() bool {
	return s == PrescriptionStatusVerified || s == PrescriptionStatusRejected
}

// ParsePrescriptionStatus converts raw input into PrescriptionStatus.
func ParsePrescriptionStatus(value string) (PrescriptionStatus, error) {
	for _, candidate := range validPrescriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid prescription status %q", value)
}

// AuditAction names an administrator action recorded on a prescription.
type AuditAction string

const (
	AuditActionVerified AuditAction = "verified"
	AuditActionRejected AuditAction = "rejected"
)

// AuditActionFor maps a review decision onto its audit action.
func AuditActionFor(status PrescriptionStatus) (AuditAction, error) {
	switch status {
	case PrescriptionStatusVerified:
		return AuditActionVerified, nil
	case PrescriptionStatusRejected:
		return AuditActionRejected, nil
	default:
		return "", fmt.Errorf("status %q is not a review decision", status)
	}
}
