package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/transport"
	"intake-engine/internal/transport/transporttest"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	subs []*models.Submission
	err  error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, sub *models.Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.subs = append(d.subs, sub)
	return nil
}

func (d *fakeDispatcher) submissions() []*models.Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*models.Submission(nil), d.subs...)
}

type memGuard struct {
	mu         sync.Mutex
	held       map[string]bool
	acquireErr error
	releases   int
}

func newMemGuard() *memGuard {
	return &memGuard{held: make(map[string]bool)}
}

func (g *memGuard) Acquire(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.acquireErr != nil {
		return false, g.acquireErr
	}
	if g.held[id] {
		return false, nil
	}
	g.held[id] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
	delete(g.held, id)
	return nil
}

func (g *memGuard) releaseCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releases
}

func testQuestions() []models.Question {
	return []models.Question{
		{Key: "Character name", Prompt: "Character name", Description: "Also your login."},
		{Key: "Password", Prompt: "Server access password", Description: "Keep it safe."},
	}
}

func newTestEngine(t *testing.T, conv *transporttest.FakeConversation, d Dispatcher, answerTimeout time.Duration) *Engine {
	return newTestEngineWithGuard(t, conv, d, newMemGuard(), answerTimeout)
}

func newTestEngineWithGuard(t *testing.T, conv *transporttest.FakeConversation, d Dispatcher, g SessionGuard, answerTimeout time.Duration) *Engine {
	t.Helper()
	e := NewEngine(
		conv,
		NewCollectors(conv),
		d,
		g,
		testQuestions(),
		Config{
			StaffRoleID:   "role-staff",
			AnswerTimeout: answerTimeout,
			TeardownGrace: 10 * time.Millisecond,
		},
		logger.NewTestLogger(t),
	)
	t.Cleanup(e.Shutdown)
	return e
}

func startTrigger(ack *transporttest.FakeAck) transport.Trigger {
	return transport.Trigger{
		Kind:    transport.TriggerIntakeStart,
		ActorID: "user-1",
		Ack:     ack.Ack,
	}
}

func answerWhenAsked(t *testing.T, conv *transporttest.FakeConversation, channelID, authorID, content string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conv.ActiveSubscriptions(channelID) == 1
	}, 2*time.Second, 5*time.Millisecond, "no collector appeared on %s", channelID)
	conv.Receive(transport.Message{ChannelID: channelID, AuthorID: authorID, Content: content})
}

func TestStartSession_CompletesAndDispatches(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	d := &fakeDispatcher{}
	e := newTestEngine(t, conv, d, 2*time.Second)

	ack := &transporttest.FakeAck{}
	require.NoError(t, e.StartSession(context.Background(), startTrigger(ack)))
	assert.Equal(t, 1, ack.Count())

	answerWhenAsked(t, conv, "chan-1", "user-1", "Ana")
	answerWhenAsked(t, conv, "chan-1", "user-1", "hunter2")

	require.Eventually(t, func() bool {
		return len(d.submissions()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	sub := d.submissions()[0]
	assert.Equal(t, "user-1", sub.ApplicantID)
	assert.Equal(t, "Ana", sub.DisplayName)
	require.Len(t, sub.Answers, 2)
	assert.Equal(t, "hunter2", sub.Answers[1].Value)

	// Confirmation goes out, then the channel is torn down after the grace.
	require.Eventually(t, func() bool {
		return len(conv.Deleted) == 1
	}, 2*time.Second, 5*time.Millisecond)
	sent := conv.SentTo("chan-1")
	assert.Contains(t, sent[len(sent)-1].Content, "submitted")

	// The applicant slot is free again.
	require.Eventually(t, func() bool {
		return e.ActiveSessions() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStartSession_ExpiresWithoutRecord(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	d := &fakeDispatcher{}
	e := newTestEngine(t, conv, d, 30*time.Millisecond)

	require.NoError(t, e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{})))

	require.Eventually(t, func() bool {
		return len(conv.Deleted) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, d.submissions())
	sent := conv.SentTo("chan-1")
	require.NotEmpty(t, sent)
	assert.Contains(t, sent[len(sent)-1].Content, "Time is up")
}

func TestStartSession_SecondConcurrentSessionRefused(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	e := newTestEngine(t, conv, &fakeDispatcher{}, 2*time.Second)

	require.NoError(t, e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{})))

	ack := &transporttest.FakeAck{}
	require.NoError(t, e.StartSession(context.Background(), startTrigger(ack)))
	assert.Contains(t, ack.Last(), "already have an intake session")
	assert.Equal(t, 1, e.ActiveSessions())
}

func TestStartSession_ChannelCreationFailureReleasesSlot(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	conv.CreateErr = errors.New("permission denied")
	e := newTestEngine(t, conv, &fakeDispatcher{}, 2*time.Second)

	ack := &transporttest.FakeAck{}
	err := e.StartSession(context.Background(), startTrigger(ack))
	require.Error(t, err)
	assert.Contains(t, ack.Last(), "try again")
	assert.Equal(t, 0, e.ActiveSessions())

	// The applicant can retry immediately.
	conv.CreateErr = nil
	require.NoError(t, e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{})))
}

func TestStartSession_ExternalChannelDeletionAbandons(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	d := &fakeDispatcher{}
	e := newTestEngine(t, conv, d, 2*time.Second)

	require.NoError(t, e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{})))

	require.Eventually(t, func() bool {
		return conv.ActiveSubscriptions("chan-1") == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conv.DeleteChannel(context.Background(), "chan-1"))

	require.Eventually(t, func() bool {
		return e.ActiveSessions() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, d.submissions())
}

func TestStartSession_DispatchFailureNotifiesApplicant(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	d := &fakeDispatcher{err: errors.New("review channel down")}
	e := newTestEngine(t, conv, d, 2*time.Second)

	require.NoError(t, e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{})))

	answerWhenAsked(t, conv, "chan-1", "user-1", "Ana")
	answerWhenAsked(t, conv, "chan-1", "user-1", "hunter2")

	require.Eventually(t, func() bool {
		return len(conv.Deleted) == 1
	}, 2*time.Second, 5*time.Millisecond)
	sent := conv.SentTo("chan-1")
	assert.Contains(t, sent[len(sent)-1].Content, "contact staff")
}

func TestStartSession_GuardErrorSkipsRelease(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	conv.CreateErr = errors.New("permission denied")
	g := newMemGuard()
	g.acquireErr = errors.New("redis unavailable")
	e := newTestEngineWithGuard(t, conv, &fakeDispatcher{}, g, 2*time.Second)

	err := e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{}))
	require.Error(t, err)
	assert.Equal(t, 0, e.ActiveSessions())
	// The key was never set, so another replica may hold it by now.
	assert.Equal(t, 0, g.releaseCount())
}

func TestStartSession_GuardReleasedOnceAfterAcquire(t *testing.T) {
	conv := transporttest.NewFakeConversation()
	conv.CreateErr = errors.New("permission denied")
	g := newMemGuard()
	e := newTestEngineWithGuard(t, conv, &fakeDispatcher{}, g, 2*time.Second)

	err := e.StartSession(context.Background(), startTrigger(&transporttest.FakeAck{}))
	require.Error(t, err)
	assert.Equal(t, 1, g.releaseCount())
}
