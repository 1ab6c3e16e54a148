// Package store implements the application record store on PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/metrics"
	"intake-engine/internal/models"
)

// Applications is the record-store contract consumed by the dispatcher and
// the decision processor.
type Applications interface {
	Create(ctx context.Context, app *models.Application) error
	FindPending(ctx context.Context, applicantID string) (*models.Application, error)
	Save(ctx context.Context, app *models.Application) error
}

// PostgresStore persists applications with a bounded fixed-delay retry on
// writes. Exhausted retries surface as a warning-grade error: callers keep
// the workflow going, the review posting is the fallback source of truth.
type PostgresStore struct {
	db       *sql.DB
	logger   logger.Logger
	attempts int
	delay    time.Duration
}

func NewPostgresStore(db *sql.DB, attempts int, delay time.Duration, log logger.Logger) *PostgresStore {
	if attempts < 1 {
		attempts = 1
	}
	return &PostgresStore{
		db:       db,
		logger:   log.WithFields(map[string]interface{}{"component": "application-store"}),
		attempts: attempts,
		delay:    delay,
	}
}

func (s *PostgresStore) Create(ctx context.Context, app *models.Application) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	if app.Status == "" {
		app.Status = models.StatusPending
	}

	answersJSON, err := json.Marshal(app.Answers)
	if err != nil {
		return apperrors.NewDatabaseWriteFailedError(fmt.Errorf("marshal answers: %w", err))
	}

	return s.withRetry(ctx, "create", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO applications (
				id, applicant_id, display_name, answers,
				status, decided_by, rejection_reason, created_at, review_channel_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			app.ID,
			app.ApplicantID,
			app.DisplayName,
			answersJSON,
			string(app.Status),
			nullable(app.DecidedBy),
			nullable(app.RejectionReason),
			app.CreatedAt,
			nullable(app.ReviewChannelID),
		)
		return err
	})
}

// FindPending returns the pending application for an applicant, or (nil, nil)
// when none exists. When several pending records exist the most recently
// created one is authoritative.
func (s *PostgresStore) FindPending(ctx context.Context, applicantID string) (*models.Application, error) {
	var (
		app             models.Application
		answersJSON     []byte
		status          string
		decidedBy       sql.NullString
		rejectionReason sql.NullString
		reviewChannelID sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, applicant_id, display_name, answers,
		       status, decided_by, rejection_reason, created_at, review_channel_id
		FROM applications
		WHERE applicant_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		applicantID, string(models.StatusPending),
	).Scan(
		&app.ID, &app.ApplicantID, &app.DisplayName, &answersJSON,
		&status, &decidedBy, &rejectionReason, &app.CreatedAt, &reviewChannelID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseQueryFailedError(err)
	}

	if err := json.Unmarshal(answersJSON, &app.Answers); err != nil {
		return nil, apperrors.NewDatabaseQueryFailedError(fmt.Errorf("unmarshal answers: %w", err))
	}
	app.Status = models.Status(status)
	app.DecidedBy = decidedBy.String
	app.RejectionReason = rejectionReason.String
	app.ReviewChannelID = reviewChannelID.String

	return &app, nil
}

func (s *PostgresStore) Save(ctx context.Context, app *models.Application) error {
	return s.withRetry(ctx, "save", func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE applications
			SET status = $2, decided_by = $3, rejection_reason = $4, review_channel_id = $5
			WHERE id = $1`,
			app.ID,
			string(app.Status),
			nullable(app.DecidedBy),
			nullable(app.RejectionReason),
			nullable(app.ReviewChannelID),
		)
		return err
	})
}

func (s *PostgresStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if attempt < s.attempts {
			s.logger.Warn("store write failed, retrying", map[string]interface{}{
				"operation":   operation,
				"attempt":     attempt,
				"maxAttempts": s.attempts,
				"retryIn":     s.delay.String(),
				"error":       err.Error(),
			})
			metrics.StoreRetries.WithLabelValues(operation).Inc()

			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return apperrors.NewDatabaseWriteFailedError(ctx.Err())
			}
		}
	}

	metrics.StoreWriteFailures.WithLabelValues(operation).Inc()
	return apperrors.NewDatabaseWriteFailedError(
		fmt.Errorf("%s failed after %d attempts: %w", operation, s.attempts, err))
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
