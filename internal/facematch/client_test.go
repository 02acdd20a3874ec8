package facematch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/observability"
)

func newTestClient(t *testing.T, baseURL string, maxAttempts, timeoutMillis int) *Client {
	t.Helper()
	return NewClient(config.FaceMatchConfig{
		BaseURL:       baseURL,
		Threshold:     0.6,
		TimeoutMillis: timeoutMillis,
		MaxAttempts:   maxAttempts,
		BackoffMillis: 1,
	}, zap.NewNop(), observability.NewMetrics(nil))
}

func scoreHandler(score float64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"similarity_score": score})
	}
}

func TestCompareMatch(t *testing.T) {
	var gotHeader atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader.Store(r.Header.Get("x-submission-id"))
		scoreHandler(0.92)(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1, 1000)
	result, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	require.NoError(t, err)

	assert.True(t, result.IsMatch)
	assert.Equal(t, 0.92, result.SimilarityScore)
	assert.Equal(t, 0.6, result.Threshold)
	assert.Equal(t, "sub-1", gotHeader.Load())
}

func TestCompareBelowThreshold(t *testing.T) {
	srv := httptest.NewServer(scoreHandler(0.3))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1, 1000)
	result, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	require.NoError(t, err)

	assert.False(t, result.IsMatch)
	assert.Equal(t, 0.3, result.SimilarityScore)
}

// The decision is made locally against the configured threshold, so an
// upstream claiming a match below it is overruled.
func TestCompareIgnoresUpstreamVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"similarity_score": 0.4, "is_match": true})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1, 1000)
	result, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	require.NoError(t, err)
	assert.False(t, result.IsMatch)
}

func TestCompareRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		scoreHandler(0.8)(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3, 1000)
	result, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	require.NoError(t, err)
	assert.True(t, result.IsMatch)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCompareExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3, 1000)
	_, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCompareInvalidInputIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"no face detected"}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 3, 1000)
	_, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompareTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		scoreHandler(0.9)(w, r)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 1, 50)
	_, err := client.Compare(context.Background(), "sub-1", []byte("ref"), []byte("probe"))
	assert.ErrorIs(t, err, ErrTimeout)
}
