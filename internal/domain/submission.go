package domain

import "time"

// SubmissionStatus enumerates lifecycle states for submissions.
// PENDING is the only non-terminal state; terminal states never transition again.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "PENDING"
	SubmissionStatusApproved SubmissionStatus = "APPROVED"
	SubmissionStatusRejected SubmissionStatus = "REJECTED"
	SubmissionStatusFailed   SubmissionStatus = "FAILED"
)

// IsTerminal reports whether the status permits no further transition.
func (s SubmissionStatus) IsTerminal() bool {
	switch s {
	case SubmissionStatusApproved, SubmissionStatusRejected, SubmissionStatusFailed:
		return true
	}
	return false
}

// SubmissionType enumerates verification flavors.
type SubmissionType string

const (
	SubmissionTypeKYC      SubmissionType = "KYC"
	SubmissionTypeOnDemand SubmissionType = "ON_DEMAND"
)

// Valid reports whether the type is a known variant.
func (t SubmissionType) Valid() bool {
	return t == SubmissionTypeKYC || t == SubmissionTypeOnDemand
}

// Reason codes recorded on REJECTED/FAILED submissions.
const (
	ReasonScoreBelowThreshold = "score-below-threshold"
	ReasonUpstreamUnavailable = "upstream-unavailable"
	ReasonInvalidEvidence     = "invalid-evidence"
	ReasonEvidenceNotFound    = "evidence-not-found"
)

// Evidence document roles stored in submission data.
const (
	DocumentRoleKTP    = "KTP"
	DocumentRoleSelfie = "SELFIE"
	DocumentRoleNFC    = "NFC"
)

// EvidenceDocument references one stored evidence artifact.
type EvidenceDocument struct {
	DocumentName      string `json:"documentName"`
	DocumentReference string `json:"documentReference"`
}

// Submission is the aggregate for one identity-verification request.
// At most one submission exists per session, enforced by the store.
type Submission struct {
	ID             int64
	SubmissionID   string
	SubmissionType SubmissionType
	SessionID      string
	UserID         string
	Status         SubmissionStatus
	Result         *string
	ReasonCode     *string
	SubmissionData map[string]EvidenceDocument
	RequestData    map[string]any
	NFCIdentifier  string
	Attempts       int
	LeaseOwner     *string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
