package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/verification-service/internal/config"
	"github.com/spec-kit/verification-service/internal/domain"
	"github.com/spec-kit/verification-service/internal/repository"
	"github.com/spec-kit/verification-service/internal/service"
)

// VerificationWorker periodically sweeps PENDING submissions whose lease is
// free or expired and drives them through the pipeline. It is the safety net
// for submissions orphaned by a crashed worker: once their lease expires they
// show up in the sweep again.
type VerificationWorker struct {
	submissions repository.SubmissionRepository
	verifier    *service.VerificationService
	logger      *zap.Logger
	interval    time.Duration
	concurrency int
	batchSize   int
}

// NewVerificationWorker constructs the worker.
func NewVerificationWorker(cfg config.Config, submissions repository.SubmissionRepository, verifier *service.VerificationService, logger *zap.Logger) *VerificationWorker {
	concurrency := cfg.Verification.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	batchSize := cfg.Verification.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	return &VerificationWorker{
		submissions: submissions,
		verifier:    verifier,
		logger:      logger,
		interval:    cfg.Verification.WorkerInterval(),
		concurrency: concurrency,
		batchSize:   batchSize,
	}
}

// Start runs sweeps on the configured interval until the context is canceled.
func (w *VerificationWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("verification worker started",
		zap.Duration("interval", w.interval),
		zap.Int("concurrency", w.concurrency),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("verification worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("verification sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce processes one batch of due submissions and reports how many were
// picked up. Contention and already-terminal records are skipped silently;
// another worker got there first.
func (w *VerificationWorker) RunOnce(ctx context.Context) (int, error) {
	due, err := w.submissions.ListDueForVerification(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.concurrency)

	for _, submission := range due {
		submissionID := submission.SubmissionID
		group.Go(func() error {
			if _, err := w.verifier.Process(groupCtx, submissionID); err != nil {
				if errors.Is(err, domain.ErrAlreadyLeased) || errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				w.logger.Warn("submission processing failed",
					zap.String("submission_id", submissionID),
					zap.Error(err),
				)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return len(due), err
	}
	return len(due), nil
}
