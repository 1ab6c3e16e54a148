package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
)

func newTestStore(t *testing.T, attempts int) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, attempts, time.Millisecond, logger.NewTestLogger(t)), mock
}

func sampleApplication() *models.Application {
	return &models.Application{
		ApplicantID: "user-123",
		DisplayName: "Ana",
		Answers: []models.Answer{
			{Key: "Character name", Value: "Ana"},
			{Key: "Password", Value: "pw1"},
		},
		Status: models.StatusPending,
	}
}

func TestCreate_InsertsRecord(t *testing.T) {
	s, mock := newTestStore(t, 3)
	app := sampleApplication()

	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), app)

	assert.NoError(t, err)
	assert.NotEmpty(t, app.ID, "ID should be generated")
	assert.False(t, app.CreatedAt.IsZero(), "CreatedAt should be stamped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_RetriesTransientFailure(t *testing.T) {
	s, mock := newTestStore(t, 3)

	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(`INSERT INTO applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), sampleApplication())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ExhaustsRetries(t *testing.T) {
	s, mock := newTestStore(t, 3)

	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO applications`).
			WillReturnError(errors.New("connection reset"))
	}

	err := s.Create(context.Background(), sampleApplication())

	require.Error(t, err)
	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeDatabaseWriteFailed, stdErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPending_ReturnsMostRecent(t *testing.T) {
	s, mock := newTestStore(t, 3)

	answers, _ := json.Marshal([]models.Answer{
		{Key: "Character name", Value: "Ana"},
	})
	created := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "applicant_id", "display_name", "answers",
		"status", "decided_by", "rejection_reason", "created_at", "review_channel_id",
	}).AddRow("app-1", "user-123", "Ana", answers, "pending", nil, nil, created, "chan-review")

	mock.ExpectQuery(`SELECT .+ FROM applications WHERE applicant_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT 1`).
		WithArgs("user-123", "pending").
		WillReturnRows(rows)

	app, err := s.FindPending(context.Background(), "user-123")

	require.NoError(t, err)
	require.NotNil(t, app)
	assert.Equal(t, "app-1", app.ID)
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Equal(t, "Ana", app.DisplayName)
	assert.Empty(t, app.DecidedBy)
	assert.Equal(t, "chan-review", app.ReviewChannelID)
	require.Len(t, app.Answers, 1)
	assert.Equal(t, "Ana", app.Answers[0].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPending_NoRows(t *testing.T) {
	s, mock := newTestStore(t, 3)

	mock.ExpectQuery(`SELECT .+ FROM applications`).
		WithArgs("missing-user", "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	app, err := s.FindPending(context.Background(), "missing-user")

	assert.NoError(t, err)
	assert.Nil(t, app)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_UpdatesDecisionFields(t *testing.T) {
	s, mock := newTestStore(t, 3)

	app := sampleApplication()
	app.ID = "app-1"
	app.Status = models.StatusApproved
	app.DecidedBy = "staff-9"

	mock.ExpectExec(`UPDATE applications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Save(context.Background(), app)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_ExhaustsRetries(t *testing.T) {
	s, mock := newTestStore(t, 2)

	app := sampleApplication()
	app.ID = "app-1"

	for i := 0; i < 2; i++ {
		mock.ExpectExec(`UPDATE applications`).
			WillReturnError(errors.New("timeout"))
	}

	err := s.Save(context.Background(), app)

	require.Error(t, err)
	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, apperrors.ErrCodeDatabaseWriteFailed, stdErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
