package dto

import (
	"time"

	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/service"
)

// CreateSubmissionRequest payload for registering a submission.
type CreateSubmissionRequest struct {
	SubmissionType string         `json:"submissionType"`
	SessionID      string         `json:"sessionId"`
	NFCData        string         `json:"nfcData"`
	RequestData    map[string]any `json:"requestData"`
}

// ProcessSubmissionRequest identifies the submission to verify.
type ProcessSubmissionRequest struct {
	SubmissionID string `json:"submissionId"`
}

// PresignedDocumentResponse describes one upload slot.
type PresignedDocumentResponse struct {
	DocumentURL       string `json:"documentUrl"`
	DocumentReference string `json:"documentReference"`
	ExpiryInSeconds   int    `json:"expiryInSeconds"`
}

// CreateSubmissionResponse returned after registration.
type CreateSubmissionResponse struct {
	SubmissionID string                               `json:"submissionId"`
	Status       string                               `json:"status"`
	Documents    map[string]PresignedDocumentResponse `json:"documents"`
}

// SubmissionResponse is the full submission view.
type SubmissionResponse struct {
	SubmissionID   string    `json:"submissionId"`
	SubmissionType string    `json:"submissionType"`
	SessionID      string    `json:"sessionId"`
	Status         string    `json:"status"`
	Result         *string   `json:"result,omitempty"`
	ReasonCode     *string   `json:"reasonCode,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// StatusResponse carries the KYC verdict for a chip.
type StatusResponse struct {
	Status string `json:"status"`
}

// NewCreateSubmissionResponse maps the service result.
func NewCreateSubmissionResponse(submission *domain.Submission, documents map[string]service.PresignedDocument) CreateSubmissionResponse {
	mapped := make(map[string]PresignedDocumentResponse, len(documents))
	for role, doc := range documents {
		mapped[role] = PresignedDocumentResponse{
			DocumentURL:       doc.UploadURL,
			DocumentReference: doc.DocumentReference,
			ExpiryInSeconds:   int(doc.ExpiresIn.Seconds()),
		}
	}
	return CreateSubmissionResponse{
		SubmissionID: submission.SubmissionID,
		Status:       string(submission.Status),
		Documents:    mapped,
	}
}

// NewSubmissionResponse maps a domain submission.
func NewSubmissionResponse(submission *domain.Submission) SubmissionResponse {
	return SubmissionResponse{
		SubmissionID:   submission.SubmissionID,
		SubmissionType: string(submission.SubmissionType),
		SessionID:      submission.SessionID,
		Status:         string(submission.Status),
		Result:         submission.Result,
		ReasonCode:     submission.ReasonCode,
		Attempts:       submission.Attempts,
		CreatedAt:      submission.CreatedAt,
		UpdatedAt:      submission.UpdatedAt,
	}
}
