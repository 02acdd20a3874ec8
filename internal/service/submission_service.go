package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/events"
	"github.com/spec-kit/verification-service/internal/repository"
	"github.com/spec-kit/verification-service/internal/storage"
	apperrors "github.com/spec-kit/verification-service/pkg/util/errorutil"
)

// Chip payloads can be arbitrarily long; only a bounded prefix is stored as
// the identifier used for ON_DEMAND lookups.
const nfcIdentifierMaxLen = 500

// ObjectStorage is the slice of the object store the submission flow needs.
type ObjectStorage interface {
	Upload(ctx context.Context, reference string, content []byte, contentType string) error
	PresignUpload(ctx context.Context, reference, contentType string) (string, time.Duration, error)
	PresignView(ctx context.Context, reference string) (string, error)
}

// StatusCache caches verdicts of status lookups.
type StatusCache interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// SubmissionService handles submission intake and status lookups.
type SubmissionService struct {
	submissions repository.SubmissionRepository
	store       ObjectStorage
	cache       StatusCache
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	cacheTTL    time.Duration
}

// SubmissionDependencies bundles collaborators for the submission service.
type SubmissionDependencies struct {
	SubmissionRepo repository.SubmissionRepository
	Store          ObjectStorage
	Cache          StatusCache
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
}

// NewSubmissionService constructs the service.
func NewSubmissionService(cfg config.Config, deps SubmissionDependencies) *SubmissionService {
	return &SubmissionService{
		submissions: deps.SubmissionRepo,
		store:       deps.Store,
		cache:       deps.Cache,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		cacheTTL:    cfg.Redis.StatusCacheTTL(),
	}
}

// CreateSubmissionInput describes the intake payload.
type CreateSubmissionInput struct {
	SubmissionType domain.SubmissionType
	SessionID      string
	UserID         string
	NFCData        string
	RequestData    map[string]any
}

// PresignedDocument is one upload slot handed back to the client.
type PresignedDocument struct {
	DocumentReference string
	UploadURL         string
	ExpiresIn         time.Duration
}

// CreateSubmission registers a PENDING submission for the session, uploads the
// chip image server-side and presigns upload URLs for the remaining evidence.
// A session that already has a submission yields a conflict, whatever state
// that submission is in.
func (s *SubmissionService) CreateSubmission(ctx context.Context, input CreateSubmissionInput) (*domain.Submission, map[string]PresignedDocument, error) {
	if !input.SubmissionType.Valid() {
		return nil, nil, apperrors.NewValidationError("unknown submission type", map[string]any{"submissionType": input.SubmissionType})
	}
	if strings.TrimSpace(input.SessionID) == "" {
		return nil, nil, apperrors.NewValidationError("sessionId is required", nil)
	}
	if strings.TrimSpace(input.NFCData) == "" {
		return nil, nil, apperrors.NewValidationError("nfcData is required", nil)
	}

	chipImage, err := decodeChipImage(input.NFCData)
	if err != nil {
		return nil, nil, apperrors.NewValidationError("nfcData is not valid base64 image data", nil)
	}

	submissionID := uuid.NewString()
	submissionData := make(map[string]domain.EvidenceDocument)
	presigned := make(map[string]PresignedDocument)

	nfcRef := documentReference(submissionID, domain.DocumentRoleNFC)
	if err := s.store.Upload(ctx, nfcRef, chipImage, "image/jpeg"); err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			return nil, nil, apperrors.NewUnavailable("object storage unavailable")
		}
		return nil, nil, err
	}
	submissionData[domain.DocumentRoleNFC] = domain.EvidenceDocument{
		DocumentName:      documentName(submissionID, domain.DocumentRoleNFC),
		DocumentReference: nfcRef,
	}

	roles := []string{domain.DocumentRoleSelfie}
	if input.SubmissionType == domain.SubmissionTypeKYC {
		roles = []string{domain.DocumentRoleKTP, domain.DocumentRoleSelfie}
	}
	for _, role := range roles {
		ref := documentReference(submissionID, role)
		url, ttl, err := s.store.PresignUpload(ctx, ref, "image/jpeg")
		if err != nil {
			if errors.Is(err, storage.ErrUnavailable) {
				return nil, nil, apperrors.NewUnavailable("object storage unavailable")
			}
			return nil, nil, err
		}
		submissionData[role] = domain.EvidenceDocument{
			DocumentName:      documentName(submissionID, role),
			DocumentReference: ref,
		}
		presigned[role] = PresignedDocument{DocumentReference: ref, UploadURL: url, ExpiresIn: ttl}
	}

	submission := &domain.Submission{
		SubmissionID:   submissionID,
		SubmissionType: input.SubmissionType,
		SessionID:      input.SessionID,
		UserID:         input.UserID,
		Status:         domain.SubmissionStatusPending,
		SubmissionData: submissionData,
		RequestData:    input.RequestData,
		NFCIdentifier:  nfcIdentifier(input.NFCData),
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, nil, apperrors.NewConflict("a submission already exists for this session", map[string]any{"sessionId": input.SessionID})
		}
		return nil, nil, err
	}

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:           uuid.NewString(),
			Type:         events.EventSubmissionCreated,
			SubmissionID: submission.SubmissionID,
			Timestamp:    time.Now(),
			Payload: events.SubmissionCreatedPayload{
				SubmissionType: submission.SubmissionType,
				SessionID:      submission.SessionID,
				UserID:         submission.UserID,
			},
		})
	}

	return submission, presigned, nil
}

// GetSubmission returns one submission by external id.
func (s *SubmissionService) GetSubmission(ctx context.Context, submissionID string) (*domain.Submission, error) {
	return s.submissions.Get(ctx, submissionID)
}

// GetBySession returns the submission registered for a session, if any.
func (s *SubmissionService) GetBySession(ctx context.Context, sessionID string) (*domain.Submission, error) {
	return s.submissions.GetBySessionID(ctx, sessionID)
}

// Verdicts returned by Status.
const (
	StatusVerdictKYC    = "KYC"
	StatusVerdictNotKYC = "NOT_KYC"
)

// Status reports whether the holder of the chip identified by nfcData has an
// APPROVED submission of the given type. Lookups are cached briefly since
// clients poll this endpoint.
func (s *SubmissionService) Status(ctx context.Context, submissionType domain.SubmissionType, nfcData string) (string, error) {
	if !submissionType.Valid() {
		return "", apperrors.NewValidationError("unknown submission type", map[string]any{"submissionType": submissionType})
	}
	identifier := nfcIdentifier(nfcData)
	if identifier == "" {
		return "", apperrors.NewValidationError("nfcIdentifier is required", nil)
	}

	cacheKey := fmt.Sprintf("submission-status:%s:%s", submissionType, identifier)
	if s.cache != nil {
		if cached, ok, err := s.cache.GetString(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	status, err := s.submissions.LatestStatusByTypeAndNFC(ctx, submissionType, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StatusVerdictNotKYC, nil
		}
		return "", err
	}

	verdict := StatusVerdictNotKYC
	if status == domain.SubmissionStatusApproved {
		verdict = StatusVerdictKYC
	}

	if s.cache != nil {
		if err := s.cache.SetString(ctx, cacheKey, verdict, s.cacheTTL); err != nil {
			s.logger.Debug("status cache write failed", zap.Error(err))
		}
	}
	return verdict, nil
}

func documentReference(submissionID, role string) string {
	return fmt.Sprintf("%s/%s.jpeg", submissionID, strings.ToLower(role))
}

func documentName(submissionID, role string) string {
	return fmt.Sprintf("%s_%s", submissionID, role)
}

// decodeChipImage accepts a raw base64 payload or a data URL.
func decodeChipImage(data string) ([]byte, error) {
	payload := data
	if idx := strings.Index(payload, ";base64,"); idx >= 0 {
		payload = payload[idx+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
}

// nfcIdentifier derives the stored identifier from the chip payload.
func nfcIdentifier(nfcData string) string {
	cleaned := strings.TrimSpace(nfcData)
	if idx := strings.Index(cleaned, ";base64,"); idx >= 0 {
		cleaned = cleaned[idx+len(";base64,"):]
	}
	if len(cleaned) > nfcIdentifierMaxLen {
		cleaned = cleaned[:nfcIdentifierMaxLen]
	}
	return cleaned
}
