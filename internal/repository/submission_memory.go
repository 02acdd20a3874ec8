package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/verification-service/internal/domain"
)

// InMemorySubmissionRepository implements SubmissionRepository with a mutex-guarded
// map. It mirrors the Postgres semantics exactly (uniqueness, conditional lease
// updates) and backs tests plus DSN-less local runs.
type InMemorySubmissionRepository struct {
	mu          sync.Mutex
	nextID      int64
	submissions map[string]*domain.Submission
	sessions    map[string]string
}

// NewInMemorySubmissionRepository creates an empty store.
func NewInMemorySubmissionRepository() *InMemorySubmissionRepository {
	return &InMemorySubmissionRepository{
		nextID:      1,
		submissions: make(map[string]*domain.Submission),
		sessions:    make(map[string]string),
	}
}

func (r *InMemorySubmissionRepository) Create(_ context.Context, submission *domain.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.submissions[submission.SubmissionID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.sessions[submission.SessionID]; exists {
		return domain.ErrConflict
	}

	now := time.Now()
	submission.ID = r.nextID
	r.nextID++
	submission.Status = domain.SubmissionStatusPending
	submission.CreatedAt = now
	submission.UpdatedAt = now

	stored := cloneSubmission(submission)
	r.submissions[submission.SubmissionID] = stored
	r.sessions[submission.SessionID] = submission.SubmissionID
	return nil
}

func (r *InMemorySubmissionRepository) Get(_ context.Context, submissionID string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.submissions[submissionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSubmission(stored), nil
}

func (r *InMemorySubmissionRepository) GetBySessionID(_ context.Context, sessionID string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	submissionID, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSubmission(r.submissions[submissionID]), nil
}

func (r *InMemorySubmissionRepository) TryAcquireLease(_ context.Context, submissionID, owner string, ttl time.Duration) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.submissions[submissionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if stored.Status != domain.SubmissionStatusPending {
		return nil, domain.ErrNotPending
	}
	now := time.Now()
	if stored.LeaseOwner != nil && stored.LeaseExpiresAt != nil && stored.LeaseExpiresAt.After(now) {
		return nil, domain.ErrAlreadyLeased
	}

	expiresAt := now.Add(ttl)
	stored.LeaseOwner = &owner
	stored.LeaseExpiresAt = &expiresAt
	stored.UpdatedAt = now
	return cloneSubmission(stored), nil
}

func (r *InMemorySubmissionRepository) CommitTerminal(_ context.Context, submissionID, owner string, status domain.SubmissionStatus, result, reasonCode *string) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidTransition
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.submissions[submissionID]
	if !ok || stored.Status != domain.SubmissionStatusPending {
		return domain.ErrInvalidTransition
	}
	if stored.LeaseOwner == nil || *stored.LeaseOwner != owner {
		return domain.ErrInvalidTransition
	}

	stored.Status = status
	stored.Result = result
	stored.ReasonCode = reasonCode
	stored.LeaseOwner = nil
	stored.LeaseExpiresAt = nil
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *InMemorySubmissionRepository) ReleaseLease(_ context.Context, submissionID, owner string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.submissions[submissionID]
	if !ok || stored.Status != domain.SubmissionStatusPending {
		return domain.ErrInvalidTransition
	}
	if stored.LeaseOwner == nil || *stored.LeaseOwner != owner {
		return domain.ErrInvalidTransition
	}

	stored.LeaseOwner = nil
	stored.LeaseExpiresAt = nil
	stored.Attempts++
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *InMemorySubmissionRepository) ListDueForVerification(_ context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 20
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var due []domain.Submission
	for _, stored := range r.submissions {
		if stored.Status != domain.SubmissionStatusPending {
			continue
		}
		if stored.LeaseOwner != nil && stored.LeaseExpiresAt != nil && stored.LeaseExpiresAt.After(now) {
			continue
		}
		due = append(due, *cloneSubmission(stored))
	}

	sort.Slice(due, func(i, j int) bool { return due[i].UpdatedAt.Before(due[j].UpdatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *InMemorySubmissionRepository) LatestApprovedByNFC(_ context.Context, nfcIdentifier string) (*domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.Submission
	for _, stored := range r.submissions {
		if stored.Status != domain.SubmissionStatusApproved {
			continue
		}
		if !strings.EqualFold(stored.NFCIdentifier, nfcIdentifier) {
			continue
		}
		if latest == nil || stored.ID > latest.ID {
			latest = stored
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return cloneSubmission(latest), nil
}

func (r *InMemorySubmissionRepository) LatestStatusByTypeAndNFC(_ context.Context, submissionType domain.SubmissionType, nfcIdentifier string) (domain.SubmissionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.Submission
	for _, stored := range r.submissions {
		if stored.SubmissionType != submissionType {
			continue
		}
		if !strings.EqualFold(stored.NFCIdentifier, nfcIdentifier) {
			continue
		}
		if latest == nil || stored.ID > latest.ID {
			latest = stored
		}
	}
	if latest == nil {
		return "", domain.ErrNotFound
	}
	return latest.Status, nil
}

func cloneSubmission(s *domain.Submission) *domain.Submission {
	clone := *s
	if s.Result != nil {
		v := *s.Result
		clone.Result = &v
	}
	if s.ReasonCode != nil {
		v := *s.ReasonCode
		clone.ReasonCode = &v
	}
	if s.LeaseOwner != nil {
		v := *s.LeaseOwner
		clone.LeaseOwner = &v
	}
	if s.LeaseExpiresAt != nil {
		v := *s.LeaseExpiresAt
		clone.LeaseExpiresAt = &v
	}
	if s.SubmissionData != nil {
		clone.SubmissionData = make(map[string]domain.EvidenceDocument, len(s.SubmissionData))
		for k, v := range s.SubmissionData {
			clone.SubmissionData[k] = v
		}
	}
	if s.RequestData != nil {
		clone.RequestData = make(map[string]any, len(s.RequestData))
		for k, v := range s.RequestData {
			clone.RequestData[k] = v
		}
	}
	return &clone
}
