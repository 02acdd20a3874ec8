package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/verification-service/internal/domain"
)

// SubmissionRepository encapsulates submission persistence. It is the only
// place allowed to mutate a submission row; every mutation is a conditional
// update so concurrent workers never race on the same record.
type SubmissionRepository interface {
	// Create inserts a new PENDING submission. Returns domain.ErrConflict when
	// submission_id or session_id already exists.
	Create(ctx context.Context, submission *domain.Submission) error

	// Get looks up a submission by its external submission_id.
	Get(ctx context.Context, submissionID string) (*domain.Submission, error)

	// GetBySessionID looks up the (at most one) submission for a session.
	GetBySessionID(ctx context.Context, sessionID string) (*domain.Submission, error)

	// TryAcquireLease atomically claims a PENDING submission for the given
	// owner. The update only succeeds when the record is PENDING and no other
	// worker holds an unexpired lease. Failure is classified as
	// domain.ErrNotFound, domain.ErrNotPending or domain.ErrAlreadyLeased.
	TryAcquireLease(ctx context.Context, submissionID, owner string, ttl time.Duration) (*domain.Submission, error)

	// CommitTerminal transitions a leased PENDING submission to a terminal
	// status and releases the lease. Returns domain.ErrInvalidTransition when
	// the caller does not hold the lease or the record is no longer PENDING.
	CommitTerminal(ctx context.Context, submissionID, owner string, status domain.SubmissionStatus, result, reasonCode *string) error

	// ReleaseLease returns a leased submission to PENDING for another attempt,
	// incrementing its attempt counter.
	ReleaseLease(ctx context.Context, submissionID, owner string) error

	// ListDueForVerification returns PENDING submissions whose lease is free
	// or expired, oldest first.
	ListDueForVerification(ctx context.Context, limit int) ([]domain.Submission, error)

	// LatestApprovedByNFC returns the most recent APPROVED submission sharing
	// the NFC identifier, used as the ON_DEMAND reference evidence.
	LatestApprovedByNFC(ctx context.Context, nfcIdentifier string) (*domain.Submission, error)

	// LatestStatusByTypeAndNFC returns the status of the most recent
	// submission matching type and NFC identifier.
	LatestStatusByTypeAndNFC(ctx context.Context, submissionType domain.SubmissionType, nfcIdentifier string) (domain.SubmissionStatus, error)
}

const submissionColumns = `id, submission_id, submission_type, session_id, user_id, status,
               result, reason_code, submission_data, request_data, nfc_identifier,
               attempts, lease_owner, lease_expires_at, created_at, updated_at`

type submissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository returns a Postgres-backed implementation.
func NewSubmissionRepository(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepository{pool: pool}
}

func (r *submissionRepository) Create(ctx context.Context, submission *domain.Submission) error {
	const query = `
        INSERT INTO submissions (submission_id, submission_type, session_id, user_id, status,
            submission_data, request_data, nfc_identifier)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`

	submissionData, err := json.Marshal(submission.SubmissionData)
	if err != nil {
		return err
	}
	requestData, err := json.Marshal(submission.RequestData)
	if err != nil {
		return err
	}

	submission.Status = domain.SubmissionStatusPending
	err = r.pool.QueryRow(ctx, query,
		submission.SubmissionID,
		submission.SubmissionType,
		submission.SessionID,
		submission.UserID,
		submission.Status,
		submissionData,
		requestData,
		submission.NFCIdentifier,
	).Scan(&submission.ID, &submission.CreatedAt, &submission.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

func (r *submissionRepository) Get(ctx context.Context, submissionID string) (*domain.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE submission_id=$1`
	return r.fetchSingle(ctx, query, submissionID)
}

func (r *submissionRepository) GetBySessionID(ctx context.Context, sessionID string) (*domain.Submission, error) {
	const query = `SELECT ` + submissionColumns + ` FROM submissions WHERE session_id=$1`
	return r.fetchSingle(ctx, query, sessionID)
}

func (r *submissionRepository) TryAcquireLease(ctx context.Context, submissionID, owner string, ttl time.Duration) (*domain.Submission, error) {
	const query = `
        UPDATE submissions
        SET lease_owner=$2, lease_expires_at=$3, updated_at=NOW()
        WHERE submission_id=$1 AND status=$4
          AND (lease_owner IS NULL OR lease_expires_at < NOW())
        RETURNING ` + submissionColumns

	expiresAt := time.Now().Add(ttl)
	submission, err := scanSubmissionRow(r.pool.QueryRow(ctx, query, submissionID, owner, expiresAt, domain.SubmissionStatusPending))
	if err == nil {
		return submission, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Lease not obtained; classify why so callers can distinguish contention
	// from terminal records.
	current, getErr := r.Get(ctx, submissionID)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status != domain.SubmissionStatusPending {
		return nil, domain.ErrNotPending
	}
	return nil, domain.ErrAlreadyLeased
}

func (r *submissionRepository) CommitTerminal(ctx context.Context, submissionID, owner string, status domain.SubmissionStatus, result, reasonCode *string) error {
	if !status.IsTerminal() {
		return domain.ErrInvalidTransition
	}

	const query = `
        UPDATE submissions
        SET status=$3, result=$4, reason_code=$5, lease_owner=NULL, lease_expires_at=NULL, updated_at=NOW()
        WHERE submission_id=$1 AND lease_owner=$2 AND status=$6`

	cmd, err := r.pool.Exec(ctx, query, submissionID, owner, status, result, reasonCode, domain.SubmissionStatusPending)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *submissionRepository) ReleaseLease(ctx context.Context, submissionID, owner string) error {
	const query = `
        UPDATE submissions
        SET lease_owner=NULL, lease_expires_at=NULL, attempts=attempts+1, updated_at=NOW()
        WHERE submission_id=$1 AND lease_owner=$2 AND status=$3`

	cmd, err := r.pool.Exec(ctx, query, submissionID, owner, domain.SubmissionStatusPending)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *submissionRepository) ListDueForVerification(ctx context.Context, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
        SELECT ` + submissionColumns + `
        FROM submissions
        WHERE status=$1 AND (lease_owner IS NULL OR lease_expires_at < NOW())
        ORDER BY updated_at ASC
        LIMIT $2`

	rows, err := r.pool.Query(ctx, query, domain.SubmissionStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

func (r *submissionRepository) LatestApprovedByNFC(ctx context.Context, nfcIdentifier string) (*domain.Submission, error) {
	const query = `
        SELECT ` + submissionColumns + `
        FROM submissions
        WHERE nfc_identifier=$1 AND status=$2
        ORDER BY id DESC LIMIT 1`
	return r.fetchSingle(ctx, query, nfcIdentifier, domain.SubmissionStatusApproved)
}

func (r *submissionRepository) LatestStatusByTypeAndNFC(ctx context.Context, submissionType domain.SubmissionType, nfcIdentifier string) (domain.SubmissionStatus, error) {
	const query = `
        SELECT status FROM submissions
        WHERE submission_type=$1 AND nfc_identifier=$2
        ORDER BY id DESC LIMIT 1`

	var status domain.SubmissionStatus
	if err := r.pool.QueryRow(ctx, query, submissionType, nfcIdentifier).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *submissionRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Submission, error) {
	submission, err := scanSubmissionRow(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return submission, nil
}

func scanSubmissionRow(row pgx.Row) (*domain.Submission, error) {
	var (
		submission     domain.Submission
		submissionData []byte
		requestData    []byte
	)
	if err := row.Scan(
		&submission.ID,
		&submission.SubmissionID,
		&submission.SubmissionType,
		&submission.SessionID,
		&submission.UserID,
		&submission.Status,
		&submission.Result,
		&submission.ReasonCode,
		&submissionData,
		&requestData,
		&submission.NFCIdentifier,
		&submission.Attempts,
		&submission.LeaseOwner,
		&submission.LeaseExpiresAt,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(submissionData) > 0 {
		if err := json.Unmarshal(submissionData, &submission.SubmissionData); err != nil {
			return nil, err
		}
	}
	if len(requestData) > 0 {
		if err := json.Unmarshal(requestData, &submission.RequestData); err != nil {
			return nil, err
		}
	}
	return &submission, nil
}

func scanSubmissions(rows pgx.Rows) ([]domain.Submission, error) {
	var result []domain.Submission
	for rows.Next() {
		submission, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *submission)
	}
	return result, rows.Err()
}
