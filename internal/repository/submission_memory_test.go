package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/verification-service/internal/domain"
)

func newPendingSubmission(submissionID, sessionID string) *domain.Submission {
	return &domain.Submission{
		SubmissionID:   submissionID,
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      sessionID,
		UserID:         "user-1",
		NFCIdentifier:  "chip-1",
		SubmissionData: map[string]domain.EvidenceDocument{
			domain.DocumentRoleNFC:    {DocumentName: "nfc", DocumentReference: submissionID + "/nfc.jpeg"},
			domain.DocumentRoleSelfie: {DocumentName: "selfie", DocumentReference: submissionID + "/selfie.jpeg"},
		},
	}
}

func TestCreateRejectsDuplicateSession(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))

	err := repo.Create(ctx, newPendingSubmission("sub-2", "session-1"))
	assert.ErrorIs(t, err, domain.ErrConflict)

	// The session stays taken even after the submission completes.
	_, err = repo.TryAcquireLease(ctx, "sub-1", "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusRejected, nil, nil))

	err = repo.Create(ctx, newPendingSubmission("sub-3", "session-1"))
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCreateConcurrentSameSessionHasOneWinner(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, newPendingSubmission(fmt.Sprintf("sub-%d", i), "session-racy"))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrConflict)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestTryAcquireLeaseIsExclusive(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.TryAcquireLease(ctx, "sub-1", fmt.Sprintf("worker-%d", i), time.Minute)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadyLeased)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestTryAcquireLeaseAfterExpiry(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))

	// An already-expired lease is treated as free.
	_, err := repo.TryAcquireLease(ctx, "sub-1", "crashed-worker", -time.Second)
	require.NoError(t, err)

	got, err := repo.TryAcquireLease(ctx, "sub-1", "fresh-worker", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fresh-worker", *got.LeaseOwner)
}

func TestTryAcquireLeaseClassifiesFailures(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	_, err := repo.TryAcquireLease(ctx, "missing", "w1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))
	_, err = repo.TryAcquireLease(ctx, "sub-1", "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusApproved, nil, nil))

	_, err = repo.TryAcquireLease(ctx, "sub-1", "w2", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestCommitTerminalRequiresLease(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))

	// No lease held at all.
	err := repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusApproved, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.TryAcquireLease(ctx, "sub-1", "w1", time.Minute)
	require.NoError(t, err)

	// Wrong owner.
	err = repo.CommitTerminal(ctx, "sub-1", "w2", domain.SubmissionStatusApproved, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// Non-terminal target status.
	err = repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusPending, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	reason := domain.ReasonScoreBelowThreshold
	require.NoError(t, repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusRejected, nil, &reason))

	// Terminal records never transition again.
	err = repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusApproved, nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := repo.Get(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusRejected, got.Status)
	require.NotNil(t, got.ReasonCode)
	assert.Equal(t, domain.ReasonScoreBelowThreshold, *got.ReasonCode)
	assert.Nil(t, got.LeaseOwner)
}

func TestReleaseLeaseIncrementsAttempts(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-1", "session-1")))

	for expected := 1; expected <= 3; expected++ {
		_, err := repo.TryAcquireLease(ctx, "sub-1", "w1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, repo.ReleaseLease(ctx, "sub-1", "w1"))

		got, err := repo.Get(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, expected, got.Attempts)
		assert.Equal(t, domain.SubmissionStatusPending, got.Status)
		assert.Nil(t, got.LeaseOwner)
	}
}

func TestListDueForVerificationSkipsLeased(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-free", "session-1")))
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-leased", "session-2")))
	require.NoError(t, repo.Create(ctx, newPendingSubmission("sub-done", "session-3")))

	_, err := repo.TryAcquireLease(ctx, "sub-leased", "w1", time.Minute)
	require.NoError(t, err)

	_, err = repo.TryAcquireLease(ctx, "sub-done", "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.CommitTerminal(ctx, "sub-done", "w1", domain.SubmissionStatusApproved, nil, nil))

	due, err := repo.ListDueForVerification(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sub-free", due[0].SubmissionID)
}

func TestLatestApprovedByNFC(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	_, err := repo.LatestApprovedByNFC(ctx, "chip-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first := newPendingSubmission("sub-1", "session-1")
	require.NoError(t, repo.Create(ctx, first))
	_, err = repo.TryAcquireLease(ctx, "sub-1", "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.CommitTerminal(ctx, "sub-1", "w1", domain.SubmissionStatusApproved, nil, nil))

	second := newPendingSubmission("sub-2", "session-2")
	require.NoError(t, repo.Create(ctx, second))
	_, err = repo.TryAcquireLease(ctx, "sub-2", "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.CommitTerminal(ctx, "sub-2", "w1", domain.SubmissionStatusApproved, nil, nil))

	got, err := repo.LatestApprovedByNFC(ctx, "chip-1")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", got.SubmissionID)
}

func TestLatestStatusByTypeAndNFC(t *testing.T) {
	repo := NewInMemorySubmissionRepository()
	ctx := context.Background()

	_, err := repo.LatestStatusByTypeAndNFC(ctx, domain.SubmissionTypeKYC, "chip-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sub := newPendingSubmission("sub-1", "session-1")
	require.NoError(t, repo.Create(ctx, sub))

	status, err := repo.LatestStatusByTypeAndNFC(ctx, domain.SubmissionTypeKYC, "chip-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusPending, status)

	_, err = repo.LatestStatusByTypeAndNFC(ctx, domain.SubmissionTypeOnDemand, "chip-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
