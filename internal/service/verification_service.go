package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/events"
	"github.com/spec-kit/verification-service/internal/facematch"
	"github.com/spec-kit/verification-service/internal/observability"
	"github.com/spec-kit/verification-service/internal/repository"
	"github.com/spec-kit/verification-service/internal/storage"
)

// EvidenceFetcher retrieves stored evidence artifacts by reference.
type EvidenceFetcher interface {
	Fetch(ctx context.Context, reference string) ([]byte, error)
}

// FaceMatcher compares two face images and returns a similarity verdict.
type FaceMatcher interface {
	Compare(ctx context.Context, submissionID string, reference, probe []byte) (*facematch.Result, error)
}

// VerificationService drives a PENDING submission to its terminal status.
// All concurrency control lives in the store's lease: whoever wins the lease
// runs the pipeline alone, and everyone else backs off.
type VerificationService struct {
	submissions repository.SubmissionRepository
	fetcher     EvidenceFetcher
	matcher     FaceMatcher
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	metrics     *observability.Metrics
	owner       string
	leaseTTL    time.Duration
	maxAttempts int
}

// VerificationDependencies bundles collaborators for the orchestrator.
type VerificationDependencies struct {
	SubmissionRepo repository.SubmissionRepository
	Fetcher        EvidenceFetcher
	Matcher        FaceMatcher
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	Owner          string
}

// NewVerificationService constructs the orchestrator.
func NewVerificationService(cfg config.Config, deps VerificationDependencies) *VerificationService {
	owner := deps.Owner
	if owner == "" {
		owner = "worker-" + uuid.NewString()
	}
	maxAttempts := cfg.Verification.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &VerificationService{
		submissions: deps.SubmissionRepo,
		fetcher:     deps.Fetcher,
		matcher:     deps.Matcher,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		owner:       owner,
		leaseTTL:    cfg.Verification.LeaseTTL(),
		maxAttempts: maxAttempts,
	}
}

// Process runs the verification pipeline for one submission. Re-running on an
// already terminal submission is a no-op that returns the stored record.
// Contention with another worker surfaces as domain.ErrAlreadyLeased.
func (s *VerificationService) Process(ctx context.Context, submissionID string) (*domain.Submission, error) {
	submission, err := s.submissions.TryAcquireLease(ctx, submissionID, s.owner, s.leaseTTL)
	switch {
	case err == nil:
		s.metrics.RecordLeaseOutcome(observability.LeaseOutcomeAcquired)
	case errors.Is(err, domain.ErrNotPending):
		s.metrics.RecordLeaseOutcome(observability.LeaseOutcomeNotPending)
		return s.submissions.Get(ctx, submissionID)
	case errors.Is(err, domain.ErrAlreadyLeased):
		s.metrics.RecordLeaseOutcome(observability.LeaseOutcomeContended)
		return nil, domain.ErrAlreadyLeased
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.RecordLeaseOutcome(observability.LeaseOutcomeNotFound)
		return nil, err
	default:
		s.metrics.RecordLeaseOutcome(observability.LeaseOutcomeError)
		return nil, err
	}

	logger := s.logger.With(
		zap.String("submission_id", submission.SubmissionID),
		zap.String("submission_type", string(submission.SubmissionType)),
		zap.Int("attempts", submission.Attempts),
	)

	referenceRef, probeRef, err := s.resolveEvidence(ctx, submission)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("evidence reference missing", zap.Error(err))
			return s.commit(ctx, submission, domain.SubmissionStatusFailed, nil, strPtr(domain.ReasonEvidenceNotFound))
		}
		return nil, s.releaseOrFail(ctx, submission, logger, err)
	}

	reference, err := s.fetcher.Fetch(ctx, referenceRef)
	if err == nil {
		var probe []byte
		probe, err = s.fetcher.Fetch(ctx, probeRef)
		if err == nil {
			return s.match(ctx, submission, logger, reference, probe)
		}
	}

	if errors.Is(err, storage.ErrNotFound) {
		logger.Warn("evidence artifact missing", zap.Error(err))
		return s.commit(ctx, submission, domain.SubmissionStatusFailed, nil, strPtr(domain.ReasonEvidenceNotFound))
	}
	return nil, s.releaseOrFail(ctx, submission, logger, err)
}

// resolveEvidence picks the reference and probe artifacts for the comparison.
// KYC compares the chip image against the fresh selfie; ON_DEMAND compares
// the selfie of the latest APPROVED submission for the same chip against the
// fresh selfie.
func (s *VerificationService) resolveEvidence(ctx context.Context, submission *domain.Submission) (string, string, error) {
	probe, ok := submission.SubmissionData[domain.DocumentRoleSelfie]
	if !ok {
		return "", "", fmt.Errorf("%w: selfie evidence not registered", domain.ErrNotFound)
	}

	switch submission.SubmissionType {
	case domain.SubmissionTypeKYC:
		chip, ok := submission.SubmissionData[domain.DocumentRoleNFC]
		if !ok {
			return "", "", fmt.Errorf("%w: chip evidence not registered", domain.ErrNotFound)
		}
		return chip.DocumentReference, probe.DocumentReference, nil

	case domain.SubmissionTypeOnDemand:
		prior, err := s.submissions.LatestApprovedByNFC(ctx, submission.NFCIdentifier)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return "", "", fmt.Errorf("%w: no approved submission for chip", domain.ErrNotFound)
			}
			return "", "", err
		}
		ref, ok := prior.SubmissionData[domain.DocumentRoleSelfie]
		if !ok {
			return "", "", fmt.Errorf("%w: approved submission lacks selfie", domain.ErrNotFound)
		}
		return ref.DocumentReference, probe.DocumentReference, nil

	default:
		return "", "", fmt.Errorf("%w: unknown submission type", domain.ErrNotFound)
	}
}

func (s *VerificationService) match(ctx context.Context, submission *domain.Submission, logger *zap.Logger, reference, probe []byte) (*domain.Submission, error) {
	result, err := s.matcher.Compare(ctx, submission.SubmissionID, reference, probe)
	if err != nil {
		if errors.Is(err, facematch.ErrInvalidInput) {
			logger.Warn("face match rejected evidence", zap.Error(err))
			return s.commit(ctx, submission, domain.SubmissionStatusFailed, nil, strPtr(domain.ReasonInvalidEvidence))
		}
		return nil, s.releaseOrFail(ctx, submission, logger, err)
	}

	outcome := fmt.Sprintf("similarity_score=%v threshold=%v", result.SimilarityScore, result.Threshold)
	if result.IsMatch {
		logger.Info("submission approved", zap.Float64("similarity_score", result.SimilarityScore))
		return s.commit(ctx, submission, domain.SubmissionStatusApproved, &outcome, nil)
	}
	logger.Info("submission rejected", zap.Float64("similarity_score", result.SimilarityScore))
	return s.commit(ctx, submission, domain.SubmissionStatusRejected, &outcome, strPtr(domain.ReasonScoreBelowThreshold))
}

// releaseOrFail handles transient upstream failures. The submission goes back
// to PENDING for another attempt until the attempt budget is spent, then it
// fails permanently. A timeout can therefore never end in APPROVED.
func (s *VerificationService) releaseOrFail(ctx context.Context, submission *domain.Submission, logger *zap.Logger, cause error) error {
	if submission.Attempts+1 >= s.maxAttempts {
		logger.Warn("attempt budget exhausted", zap.Error(cause))
		if _, err := s.commit(ctx, submission, domain.SubmissionStatusFailed, nil, strPtr(domain.ReasonUpstreamUnavailable)); err != nil {
			return err
		}
		return cause
	}

	logger.Warn("transient failure, releasing lease", zap.Error(cause))
	if err := s.submissions.ReleaseLease(ctx, submission.SubmissionID, s.owner); err != nil {
		logger.Error("lease release failed", zap.Error(err))
	}
	return cause
}

func (s *VerificationService) commit(ctx context.Context, submission *domain.Submission, status domain.SubmissionStatus, result, reasonCode *string) (*domain.Submission, error) {
	if err := s.submissions.CommitTerminal(ctx, submission.SubmissionID, s.owner, status, result, reasonCode); err != nil {
		return nil, err
	}
	s.metrics.RecordTerminalStatus(string(status))

	committed, err := s.submissions.Get(ctx, submission.SubmissionID)
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		_ = s.dispatcher.Publish(ctx, events.Event{
			ID:           uuid.NewString(),
			Type:         events.EventSubmissionCompleted,
			SubmissionID: committed.SubmissionID,
			Timestamp:    time.Now(),
			Payload:      events.SubmissionCompletedPayload{Submission: *committed},
		})
	}
	return committed, nil
}

func strPtr(s string) *string {
	return &s
}
