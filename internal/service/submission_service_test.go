package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/repository"
	apperrors "github.com/spec-kit/verification-service/pkg/util/errorutil"
)

type fakeObjectStore struct {
	mu       sync.Mutex
	uploads  map[string][]byte
	presigns []string
	failWith error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploads: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, reference string, content []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.uploads[reference] = content
	return nil
}

func (f *fakeObjectStore) PresignUpload(_ context.Context, reference, _ string) (string, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", 0, f.failWith
	}
	f.presigns = append(f.presigns, reference)
	return "https://storage.test/upload/" + reference, 600 * time.Second, nil
}

func (f *fakeObjectStore) PresignView(_ context.Context, reference string) (string, error) {
	return "https://storage.test/view/" + reference, nil
}

type fakeStatusCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{values: make(map[string]string)}
}

func (f *fakeStatusCache) GetString(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.values[key]
	return val, ok, nil
}

func (f *fakeStatusCache) SetString(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return nil
}

type submissionFixture struct {
	repo    *repository.InMemorySubmissionRepository
	store   *fakeObjectStore
	cache   *fakeStatusCache
	service *SubmissionService
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	cfg := config.Config{Redis: config.RedisConfig{StatusCacheTTLSec: 30}}
	repo := repository.NewInMemorySubmissionRepository()
	store := newFakeObjectStore()
	cache := newFakeStatusCache()

	svc := NewSubmissionService(cfg, SubmissionDependencies{
		SubmissionRepo: repo,
		Store:          store,
		Cache:          cache,
		Logger:         zap.NewNop(),
	})
	return &submissionFixture{repo: repo, store: store, cache: cache, service: svc}
}

func chipPayload(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}

func TestCreateSubmissionKYC(t *testing.T) {
	fx := newSubmissionFixture(t)

	submission, documents, err := fx.service.CreateSubmission(context.Background(), CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		UserID:         "user-1",
		NFCData:        chipPayload("chip image bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SubmissionStatusPending, submission.Status)
	assert.NotEmpty(t, submission.SubmissionID)

	// KYC presigns the identity card and the selfie; the chip image is
	// uploaded server-side.
	require.Len(t, documents, 2)
	assert.Contains(t, documents, domain.DocumentRoleKTP)
	assert.Contains(t, documents, domain.DocumentRoleSelfie)
	for _, doc := range documents {
		assert.NotEmpty(t, doc.UploadURL)
		assert.Equal(t, 600*time.Second, doc.ExpiresIn)
	}

	require.Len(t, submission.SubmissionData, 3)
	nfcDoc := submission.SubmissionData[domain.DocumentRoleNFC]
	assert.Equal(t, []byte("chip image bytes"), fx.store.uploads[nfcDoc.DocumentReference])

	stored, err := fx.repo.Get(context.Background(), submission.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, "session-1", stored.SessionID)
}

func TestCreateSubmissionOnDemand(t *testing.T) {
	fx := newSubmissionFixture(t)

	_, documents, err := fx.service.CreateSubmission(context.Background(), CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeOnDemand,
		SessionID:      "session-1",
		UserID:         "user-1",
		NFCData:        chipPayload("chip"),
	})
	require.NoError(t, err)

	require.Len(t, documents, 1)
	assert.Contains(t, documents, domain.DocumentRoleSelfie)
}

func TestCreateSubmissionValidation(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	_, _, err := fx.service.CreateSubmission(ctx, CreateSubmissionInput{
		SubmissionType: "SOMETHING_ELSE",
		SessionID:      "session-1",
		NFCData:        chipPayload("chip"),
	})
	assertDomainErrorStatus(t, err, 400)

	_, _, err = fx.service.CreateSubmission(ctx, CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "",
		NFCData:        chipPayload("chip"),
	})
	assertDomainErrorStatus(t, err, 400)

	_, _, err = fx.service.CreateSubmission(ctx, CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		NFCData:        "%%% not base64 %%%",
	})
	assertDomainErrorStatus(t, err, 400)
}

func TestCreateSubmissionDuplicateSession(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	input := CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		UserID:         "user-1",
		NFCData:        chipPayload("chip"),
	}
	_, _, err := fx.service.CreateSubmission(ctx, input)
	require.NoError(t, err)

	_, _, err = fx.service.CreateSubmission(ctx, input)
	assertDomainErrorStatus(t, err, 409)
}

func TestCreateSubmissionConcurrentSameSession(t *testing.T) {
	fx := newSubmissionFixture(t)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = fx.service.CreateSubmission(context.Background(), CreateSubmissionInput{
				SubmissionType: domain.SubmissionTypeKYC,
				SessionID:      "session-racy",
				UserID:         "user-1",
				NFCData:        chipPayload("chip"),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assertDomainErrorStatus(t, err, 409)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestNFCIdentifierTruncated(t *testing.T) {
	fx := newSubmissionFixture(t)

	longPayload := chipPayload(strings.Repeat("x", 2048))
	submission, _, err := fx.service.CreateSubmission(context.Background(), CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		UserID:         "user-1",
		NFCData:        longPayload,
	})
	require.NoError(t, err)

	assert.Len(t, submission.NFCIdentifier, 500)
	assert.Equal(t, longPayload[:500], submission.NFCIdentifier)
}

func TestStatusVerdicts(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	nfcData := chipPayload("chip")

	// No submission at all.
	verdict, err := fx.service.Status(ctx, domain.SubmissionTypeKYC, nfcData)
	require.NoError(t, err)
	assert.Equal(t, StatusVerdictNotKYC, verdict)

	submission, _, err := fx.service.CreateSubmission(ctx, CreateSubmissionInput{
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		UserID:         "user-1",
		NFCData:        nfcData,
	})
	require.NoError(t, err)

	// Still pending.
	verdict, err = fx.service.Status(ctx, domain.SubmissionTypeKYC, nfcData)
	require.NoError(t, err)
	assert.Equal(t, StatusVerdictNotKYC, verdict)

	_, err = fx.repo.TryAcquireLease(ctx, submission.SubmissionID, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, fx.repo.CommitTerminal(ctx, submission.SubmissionID, "w1", domain.SubmissionStatusApproved, nil, nil))

	// The pending verdict was cached; use a fresh cache to observe the
	// approval.
	fx.cache.values = map[string]string{}
	verdict, err = fx.service.Status(ctx, domain.SubmissionTypeKYC, nfcData)
	require.NoError(t, err)
	assert.Equal(t, StatusVerdictKYC, verdict)
}

func TestStatusServedFromCache(t *testing.T) {
	fx := newSubmissionFixture(t)
	ctx := context.Background()

	nfcData := chipPayload("chip")
	cacheKey := "submission-status:KYC:" + nfcIdentifier(nfcData)
	fx.cache.values[cacheKey] = StatusVerdictKYC

	// No record exists; the cached verdict wins.
	verdict, err := fx.service.Status(ctx, domain.SubmissionTypeKYC, nfcData)
	require.NoError(t, err)
	assert.Equal(t, StatusVerdictKYC, verdict)
}

func assertDomainErrorStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %v", err)
	assert.Equal(t, status, domainErr.HTTPStatus)
}
