package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/facematch"
	"github.com/spec-kit/verification-service/internal/observability"
	"github.com/spec-kit/verification-service/internal/repository"
	"github.com/spec-kit/verification-service/internal/service"
)

type stubFetcher struct{}

func (stubFetcher) Fetch(_ context.Context, reference string) ([]byte, error) {
	return []byte(reference), nil
}

type stubMatcher struct {
	mu    sync.Mutex
	calls int
}

func (m *stubMatcher) Compare(_ context.Context, _ string, _, _ []byte) (*facematch.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return &facematch.Result{SimilarityScore: 0.9, IsMatch: true, Threshold: 0.6}, nil
}

func newWorkerFixture(t *testing.T) (*VerificationWorker, *repository.InMemorySubmissionRepository, *stubMatcher) {
	t.Helper()
	cfg := config.Config{
		Verification: config.VerificationConfig{
			LeaseTTLSeconds:       60,
			MaxAttempts:           3,
			WorkerIntervalSeconds: 1,
			WorkerConcurrency:     4,
			WorkerBatchSize:       10,
		},
	}
	repo := repository.NewInMemorySubmissionRepository()
	matcher := &stubMatcher{}

	verifier := service.NewVerificationService(cfg, service.VerificationDependencies{
		SubmissionRepo: repo,
		Fetcher:        stubFetcher{},
		Matcher:        matcher,
		Logger:         zap.NewNop(),
		Metrics:        observability.NewMetrics(nil),
		Owner:          "sweep-worker",
	})
	return NewVerificationWorker(cfg, repo, verifier, zap.NewNop()), repo, matcher
}

func seedPending(t *testing.T, repo *repository.InMemorySubmissionRepository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		submissionID := fmt.Sprintf("sub-%d", i)
		require.NoError(t, repo.Create(context.Background(), &domain.Submission{
			SubmissionID:   submissionID,
			SubmissionType: domain.SubmissionTypeKYC,
			SessionID:      fmt.Sprintf("session-%d", i),
			UserID:         "user-1",
			NFCIdentifier:  fmt.Sprintf("chip-%d", i),
			SubmissionData: map[string]domain.EvidenceDocument{
				domain.DocumentRoleNFC:    {DocumentReference: submissionID + "/nfc.jpeg"},
				domain.DocumentRoleSelfie: {DocumentReference: submissionID + "/selfie.jpeg"},
			},
		}))
	}
}

func TestRunOnceProcessesDueSubmissions(t *testing.T) {
	w, repo, matcher := newWorkerFixture(t)
	seedPending(t, repo, 3)

	picked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, picked)
	assert.Equal(t, 3, matcher.calls)

	for i := 0; i < 3; i++ {
		got, err := repo.Get(context.Background(), fmt.Sprintf("sub-%d", i))
		require.NoError(t, err)
		assert.Equal(t, domain.SubmissionStatusApproved, got.Status)
	}

	// Nothing left to sweep.
	picked, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, picked)
}

func TestRunOnceEmptyStore(t *testing.T) {
	w, _, matcher := newWorkerFixture(t)

	picked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, picked)
	assert.Equal(t, 0, matcher.calls)
}
