package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/events"
	"github.com/spec-kit/verification-service/internal/observability"
)

func testSubmission() domain.Submission {
	result := "similarity_score=0.92 threshold=0.6"
	return domain.Submission{
		SubmissionID:   "sub-1",
		SubmissionType: domain.SubmissionTypeKYC,
		SessionID:      "session-1",
		UserID:         "user-1",
		Status:         domain.SubmissionStatusApproved,
		Result:         &result,
		NFCIdentifier:  "chip-1",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestIndexWritesDocument(t *testing.T) {
	var gotPath, gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		user, pass, _ := r.BasicAuth()
		gotAuth.Store(user + ":" + pass)

		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err == nil {
			assert.Equal(t, "sub-1", doc["submission_id"])
			assert.Equal(t, "APPROVED", doc["status"])
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	indexer := NewIndexer(config.SearchConfig{
		URL:      srv.URL,
		Username: "elastic",
		Password: "secret",
		Index:    "submissions",
	}, nil, zap.NewNop(), observability.NewMetrics(nil))

	submission := testSubmission()
	require.NoError(t, indexer.Index(context.Background(), &submission))

	assert.Equal(t, "/submissions/_doc/sub-1", gotPath.Load())
	assert.Equal(t, "elastic:secret", gotAuth.Load())
}

func TestIndexDisabledWithoutURL(t *testing.T) {
	indexer := NewIndexer(config.SearchConfig{}, nil, zap.NewNop(), observability.NewMetrics(nil))
	submission := testSubmission()
	assert.NoError(t, indexer.Index(context.Background(), &submission))
}

func TestIndexReportsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cluster red", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	indexer := NewIndexer(config.SearchConfig{URL: srv.URL, Index: "submissions"}, nil, zap.NewNop(), observability.NewMetrics(nil))
	submission := testSubmission()
	assert.Error(t, indexer.Index(context.Background(), &submission))
}

// A failing index write never propagates to the publisher.
func TestCompletionHandlerSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dispatcher := events.NewInMemoryDispatcher()
	indexer := NewIndexer(config.SearchConfig{URL: srv.URL, Index: "submissions"}, dispatcher, zap.NewNop(), observability.NewMetrics(nil))
	indexer.RegisterHandlers()

	err := dispatcher.Publish(context.Background(), events.Event{
		Type:         events.EventSubmissionCompleted,
		SubmissionID: "sub-1",
		Payload:      events.SubmissionCompletedPayload{Submission: testSubmission()},
	})
	require.NoError(t, err)
	dispatcher.Wait()
}
