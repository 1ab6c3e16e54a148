package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/audit"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/transport/transporttest"
)

// fakeStore is an in-memory Applications implementation. Saving a terminal
// status removes the record from the pending set, like the real store's
// pending query would.
type fakeStore struct {
	mu        sync.Mutex
	pending   map[string]*models.Application
	created   []*models.Application
	saved     []*models.Application
	createErr error
	findErr   error
	saveErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{pending: make(map[string]*models.Application)}
}

func (s *fakeStore) Create(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if app.ID == "" {
		app.ID = "app-" + app.ApplicantID
	}
	s.created = append(s.created, app)
	s.pending[app.ApplicantID] = app
	return nil
}

func (s *fakeStore) FindPending(_ context.Context, applicantID string) (*models.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	app, ok := s.pending[applicantID]
	if !ok {
		return nil, nil
	}
	copied := *app
	return &copied, nil
}

func (s *fakeStore) Save(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, app)
	if app.Status.Terminal() {
		delete(s.pending, app.ApplicantID)
	}
	return nil
}

func (s *fakeStore) savedApps() []*models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Application(nil), s.saved...)
}

type fakeAlerter struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (a *fakeAlerter) Alert(_ context.Context, subject, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.subjects = append(a.subjects, subject)
	return nil
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subjects)
}

func sampleSubmission() *models.Submission {
	return &models.Submission{
		ApplicantID: "user-1",
		DisplayName: "Ana",
		Answers: []models.Answer{
			{Key: "Character name", Value: "Ana"},
			{Key: "Password", Value: "hunter2"},
		},
		CompletedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_PersistsAndPostsForReview(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	st := newFakeStore()
	d := NewDispatcher(st, conv, audit.NopTrail{}, nil, "chan-review", logger.NewTestLogger(t))

	require.NoError(t, d.Dispatch(context.Background(), sampleSubmission()))

	require.Len(t, st.created, 1)
	app := st.created[0]
	assert.Equal(t, models.StatusPending, app.Status)
	assert.Equal(t, "chan-review", app.ReviewChannelID)
	assert.Equal(t, "Ana", app.DisplayName)

	posted := conv.SentTo("chan-review")
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0].Content, "Ana")
	assert.Contains(t, posted[0].Content, "hunter2")

	require.Len(t, posted[0].Buttons, 2)
	assert.Equal(t, "approve:user-1", posted[0].Buttons[0].ID)
	assert.Equal(t, "reject:user-1", posted[0].Buttons[1].ID)

	require.NotNil(t, posted[0].Attachment)
	assert.Contains(t, string(posted[0].Attachment.Data), "Password: hunter2")
}

func TestDispatch_StoreFailureStillPostsAndAlerts(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	st := newFakeStore()
	st.createErr = errors.New("db down")
	alerter := &fakeAlerter{}
	d := NewDispatcher(st, conv, audit.NopTrail{}, alerter, "chan-review", logger.NewTestLogger(t))

	require.NoError(t, d.Dispatch(context.Background(), sampleSubmission()))

	assert.Len(t, conv.SentTo("chan-review"), 1)
	assert.Equal(t, 1, alerter.count())
}

func TestDispatch_StoreFailureWithoutAlerterDoesNotPanic(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	st := newFakeStore()
	st.createErr = errors.New("db down")
	d := NewDispatcher(st, conv, audit.NopTrail{}, nil, "chan-review", logger.NewTestLogger(t))

	require.NoError(t, d.Dispatch(context.Background(), sampleSubmission()))
	assert.Len(t, conv.SentTo("chan-review"), 1)
}

func TestDispatch_ReviewPostingFailureIsFatal(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	conv.SendErr["chan-review"] = errors.New("channel gone")
	st := newFakeStore()
	d := NewDispatcher(st, conv, audit.NopTrail{}, nil, "chan-review", logger.NewTestLogger(t))

	err := d.Dispatch(context.Background(), sampleSubmission())
	assert.Error(t, err)
	// The record was still written.
	assert.Len(t, st.created, 1)
}
