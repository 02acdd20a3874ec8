package facematch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/observability"
)

// Sentinel errors describing why a comparison could not be completed.
var (
	// ErrTimeout signals the per-call deadline elapsed before a definitive
	// answer. The call must be treated as not matched.
	ErrTimeout = errors.New("face match timed out")
	// ErrServiceUnavailable signals a transient upstream failure after the
	// client-level retry budget was exhausted.
	ErrServiceUnavailable = errors.New("face match service unavailable")
	// ErrInvalidInput signals the upstream rejected the evidence; never retried.
	ErrInvalidInput = errors.New("face match rejected evidence")
)

// Result is the decision returned by the comparison service.
type Result struct {
	SimilarityScore float64 `json:"similarity_score"`
	IsMatch         bool    `json:"is_match"`
	Threshold       float64 `json:"threshold"`
}

type compareRequest struct {
	ReferenceImage string  `json:"reference_image"`
	ProbeImage     string  `json:"probe_image"`
	Threshold      float64 `json:"threshold"`
}

// Client wraps the external face comparison service. It is the only component
// allowed to call the matcher; per-call timeout and the retry policy for
// transient failures live here.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	threshold   float64
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewClient builds a client from configuration.
func NewClient(cfg config.FaceMatchConfig, logger *zap.Logger, metrics *observability.Metrics) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		baseURL:     cfg.BaseURL,
		threshold:   cfg.Threshold,
		maxAttempts: maxAttempts,
		backoff:     cfg.Backoff(),
		logger:      logger,
		metrics:     metrics,
	}
}

// Threshold returns the configured minimum similarity for a match.
func (c *Client) Threshold() float64 {
	return c.threshold
}

// Compare submits reference and probe evidence and returns the decision.
// Transient failures (timeouts, 5xx, network errors) are retried up to the
// configured attempt budget with a fixed backoff; invalid input is not.
func (c *Client) Compare(ctx context.Context, submissionID string, reference, probe []byte) (*Result, error) {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.compareOnce(ctx, submissionID, reference, probe)
		if err == nil {
			outcome := observability.FaceMatchOutcomeNoMatch
			if result.IsMatch {
				outcome = observability.FaceMatchOutcomeMatch
			}
			c.metrics.RecordFaceMatch(outcome, time.Since(start))
			return result, nil
		}

		lastErr = err
		if errors.Is(err, ErrInvalidInput) {
			c.metrics.RecordFaceMatch(observability.FaceMatchOutcomeInvalidInput, time.Since(start))
			return nil, err
		}

		c.logger.Warn("face match attempt failed",
			zap.String("submission_id", submissionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				c.metrics.RecordFaceMatch(observability.FaceMatchOutcomeTimeout, time.Since(start))
				return nil, ErrTimeout
			case <-time.After(c.backoff):
			}
		}
	}

	if errors.Is(lastErr, ErrTimeout) {
		c.metrics.RecordFaceMatch(observability.FaceMatchOutcomeTimeout, time.Since(start))
		return nil, ErrTimeout
	}
	c.metrics.RecordFaceMatch(observability.FaceMatchOutcomeUnavailable, time.Since(start))
	return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, lastErr)
}

func (c *Client) compareOnce(ctx context.Context, submissionID string, reference, probe []byte) (*Result, error) {
	payload, err := json.Marshal(compareRequest{
		ReferenceImage: base64.StdEncoding.EncodeToString(reference),
		ProbeImage:     base64.StdEncoding.EncodeToString(probe),
		Threshold:      c.threshold,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/compare-faces", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-submission-id", submissionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidInput, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrServiceUnavailable, err)
	}

	// The decision is derived locally so a misconfigured upstream threshold
	// can never approve below ours.
	result.Threshold = c.threshold
	result.IsMatch = result.SimilarityScore >= c.threshold
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
