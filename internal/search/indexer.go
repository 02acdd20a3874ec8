// Package search projects completed submissions into Elasticsearch for
// operator lookup. The index is a derived, disposable copy; indexing is
// best-effort and never influences a submission's outcome.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/events"
	"github.com/spec-kit/verification-service/internal/observability"
)

// Indexer subscribes to completion events and writes documents to the index.
type Indexer struct {
	httpClient *http.Client
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	baseURL    string
	username   string
	password   string
	index      string
}

type submissionDocument struct {
	SubmissionID   string                  `json:"submission_id"`
	SubmissionType domain.SubmissionType   `json:"submission_type"`
	SessionID      string                  `json:"session_id"`
	UserID         string                  `json:"user_id"`
	Status         domain.SubmissionStatus `json:"status"`
	Result         *string                 `json:"result,omitempty"`
	ReasonCode     *string                 `json:"reason_code,omitempty"`
	NFCIdentifier  string                  `json:"nfc_identifier,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	UpdatedAt      time.Time               `json:"updated_at"`
}

// NewIndexer creates the indexer.
func NewIndexer(cfg config.SearchConfig, dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *Indexer {
	return &Indexer{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		index:      cfg.Index,
	}
}

// RegisterHandlers subscribes to completion events.
func (i *Indexer) RegisterHandlers() {
	if i.dispatcher == nil {
		return
	}
	i.dispatcher.Subscribe(events.EventSubmissionCompleted, i.handleSubmissionCompleted)
}

func (i *Indexer) handleSubmissionCompleted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SubmissionCompletedPayload)
	if !ok {
		i.logger.Warn("unexpected completion payload", zap.String("submission_id", event.SubmissionID))
		return nil
	}

	if err := i.Index(ctx, &payload.Submission); err != nil {
		// Indexing failures are swallowed: the store remains the source of
		// truth and the index can be rebuilt.
		i.metrics.RecordIndexFailure()
		i.logger.Warn("submission indexing failed",
			zap.String("submission_id", event.SubmissionID),
			zap.Error(err),
		)
	}
	return nil
}

// Index writes one submission document. A blank URL disables indexing.
func (i *Indexer) Index(ctx context.Context, submission *domain.Submission) error {
	if i.baseURL == "" {
		return nil
	}

	doc := submissionDocument{
		SubmissionID:   submission.SubmissionID,
		SubmissionType: submission.SubmissionType,
		SessionID:      submission.SessionID,
		UserID:         submission.UserID,
		Status:         submission.Status,
		Result:         submission.Result,
		ReasonCode:     submission.ReasonCode,
		NFCIdentifier:  submission.NFCIdentifier,
		CreatedAt:      submission.CreatedAt,
		UpdatedAt:      submission.UpdatedAt,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/_doc/%s", i.baseURL, i.index, submission.SubmissionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if i.username != "" {
		req.SetBasicAuth(i.username, i.password)
	}

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index responded %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
