// Package intake drives one applicant through the ordered question list
// inside a private conversation channel, and hands the finished submission
// to review.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/metrics"
	"intake-engine/internal/models"
	"intake-engine/internal/transport"
)

// Dispatcher receives the compiled submission of a completed session. The
// engine calls it at most once per session.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub *models.Submission) error
}

// Config carries the engine's slice of the validated process configuration.
type Config struct {
	StaffRoleID   string
	AnswerTimeout time.Duration
	TeardownGrace time.Duration
}

// Engine owns session lifecycle. Each session runs on its own goroutine and
// owns its conversation channel exclusively; sessions share no mutable state
// with each other.
type Engine struct {
	conv       transport.Conversation
	collectors *Collectors
	dispatcher Dispatcher
	guard      SessionGuard
	questions  []models.Question
	cfg        Config
	logger     logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// live tracks running sessions per applicant; the value records whether
	// the distributed guard key is actually held, so release never deletes a
	// key this replica did not set.
	mu   sync.Mutex
	live map[string]bool
}

func NewEngine(
	conv transport.Conversation,
	collectors *Collectors,
	dispatcher Dispatcher,
	guard SessionGuard,
	questions []models.Question,
	cfg Config,
	log logger.Logger,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		conv:       conv,
		collectors: collectors,
		dispatcher: dispatcher,
		guard:      guard,
		questions:  questions,
		cfg:        cfg,
		logger:     log.WithFields(map[string]interface{}{"component": "session-engine"}),
		ctx:        ctx,
		cancel:     cancel,
		live:       make(map[string]bool),
	}
}

// StartSession handles an intake-start trigger: it claims the per-applicant
// slot, creates the private channel, acknowledges the trigger, and runs the
// question loop in the background.
func (e *Engine) StartSession(ctx context.Context, trig transport.Trigger) error {
	applicantID := trig.ActorID
	log := e.logger.WithFields(map[string]interface{}{"applicantId": applicantID})

	if !e.claim(ctx, applicantID, log) {
		log.WithError(apperrors.NewSessionAlreadyActiveError(applicantID)).Warn("session refused", nil)
		_ = trig.Ack(ctx, "You already have an intake session open. Finish it before starting another.")
		return nil
	}

	channel, err := e.conv.CreatePrivateChannel(
		ctx,
		fmt.Sprintf("intake-%s", applicantID),
		applicantID,
		[]string{e.cfg.StaffRoleID},
	)
	if err != nil {
		e.releaseClaim(applicantID, log)
		_ = trig.Ack(ctx, "Could not open your intake channel. Please try again later.")
		return fmt.Errorf("create session channel: %w", err)
	}

	if err := trig.Ack(ctx, fmt.Sprintf("Private channel created: <#%s>", channel.ID)); err != nil {
		log.Warn("trigger acknowledgment failed", map[string]interface{}{"error": err.Error()})
	}

	metrics.SessionsStarted.Inc()
	log.Info("session started", map[string]interface{}{"channelId": channel.ID})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(applicantID, channel, log)
	}()

	return nil
}

// Shutdown cancels running sessions and waits for their goroutines.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// ActiveSessions reports the number of live sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.live)
}

// claim reserves the applicant's single session slot, both in-process and in
// Redis. A guard backend failure is logged and treated as advisory: the
// in-memory registry still protects this replica, and the Redis key is then
// recorded as not held.
func (e *Engine) claim(ctx context.Context, applicantID string, log logger.Logger) bool {
	e.mu.Lock()
	if _, busy := e.live[applicantID]; busy {
		e.mu.Unlock()
		return false
	}
	e.live[applicantID] = false
	e.mu.Unlock()

	acquired, err := e.guard.Acquire(ctx, applicantID)
	if err != nil {
		log.Warn("session guard unavailable, continuing with local registry only", map[string]interface{}{
			"error": err.Error(),
		})
		return true
	}
	if !acquired {
		e.mu.Lock()
		delete(e.live, applicantID)
		e.mu.Unlock()
		return false
	}

	e.mu.Lock()
	e.live[applicantID] = true
	e.mu.Unlock()
	return true
}

func (e *Engine) releaseClaim(applicantID string, log logger.Logger) {
	e.mu.Lock()
	guardHeld := e.live[applicantID]
	delete(e.live, applicantID)
	e.mu.Unlock()

	// If the Acquire errored the key may meanwhile belong to another
	// replica; deleting it would break that replica's guard.
	if !guardHeld {
		return
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.guard.Release(releaseCtx, applicantID); err != nil {
		log.Warn("session guard release failed", map[string]interface{}{"error": err.Error()})
	}
}

// run is the per-session question loop. It never creates a partial record:
// the dispatcher is called only after every answer is collected.
func (e *Engine) run(applicantID string, channel transport.ChannelRef, log logger.Logger) {
	start := time.Now()
	outcome := "abandoned"
	defer func() {
		e.releaseClaim(applicantID, log)
		metrics.SessionsEnded.WithLabelValues(outcome).Inc()
		metrics.SessionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		log.Info("session ended", map[string]interface{}{
			"outcome":  outcome,
			"duration": time.Since(start).String(),
		})
	}()

	greeting := fmt.Sprintf(
		"Welcome! Let's get your application going. Answer each question below. You have %s per question.",
		e.cfg.AnswerTimeout,
	)
	if _, err := e.conv.SendMessage(e.ctx, channel.ID, transport.Outgoing{Content: greeting}); err != nil {
		log.Warn("session channel unusable before first question", map[string]interface{}{"error": err.Error()})
		return
	}

	answers := make([]models.Answer, 0, len(e.questions))
	for i, q := range e.questions {
		prompt := transport.Outgoing{
			Content: fmt.Sprintf("**%s**\n%s\n\n_Question %d of %d_", q.Prompt, q.Description, i+1, len(e.questions)),
		}
		if _, err := e.conv.SendMessage(e.ctx, channel.ID, prompt); err != nil {
			log.Warn("session abandoned: question could not be posted", map[string]interface{}{
				"questionIndex": i,
				"error":         err.Error(),
			})
			return
		}

		reply, err := e.collectors.Collect(channel.ID, applicantID, e.cfg.AnswerTimeout)
		if err != nil {
			log.Error("collector registration failed", map[string]interface{}{
				"questionIndex": i,
				"error":         err.Error(),
			})
			return
		}

		msg, err := reply.Wait(e.ctx)
		switch {
		case err == nil:
			answers = append(answers, models.Answer{Key: q.Key, Value: msg.Content})

		case errors.Is(err, ErrAwaitTimeout):
			outcome = "expired"
			e.send(channel.ID, "Time is up. Start the intake again if you want another try.")
			e.deleteChannel(channel.ID, log)
			log.WithError(apperrors.NewSessionTimeoutError(applicantID, i)).
				Info("session expired waiting for answer", map[string]interface{}{"questionIndex": i})
			return

		default:
			// Channel removed externally, engine shutdown, or cancellation:
			// abandon without a record.
			cause := err
			if errors.Is(err, ErrChannelGone) {
				cause = apperrors.NewChannelUnavailableError(channel.ID, err)
			}
			log.WithError(cause).Warn("session abandoned", map[string]interface{}{
				"questionIndex": i,
			})
			return
		}
	}

	submission := &models.Submission{
		ApplicantID: applicantID,
		DisplayName: answers[0].Value,
		Answers:     answers,
		CompletedAt: time.Now().UTC(),
	}

	if err := e.dispatcher.Dispatch(e.ctx, submission); err != nil {
		log.Error("review dispatch failed", map[string]interface{}{"error": err.Error()})
		e.send(channel.ID, "Something went wrong submitting your application. Please contact staff.")
		e.deleteChannel(channel.ID, log)
		return
	}

	outcome = "completed"
	e.send(channel.ID, "Your application was submitted! Staff will review it soon.")

	// Leave the confirmation visible before tearing the channel down.
	select {
	case <-time.After(e.cfg.TeardownGrace):
	case <-e.ctx.Done():
	}
	e.deleteChannel(channel.ID, log)
}

func (e *Engine) send(channelID, content string) {
	sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.conv.SendMessage(sendCtx, channelID, transport.Outgoing{Content: content}); err != nil {
		e.logger.Warn("notice could not be sent", map[string]interface{}{
			"channelId": channelID,
			"error":     err.Error(),
		})
	}
}

func (e *Engine) deleteChannel(channelID string, log logger.Logger) {
	delCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.conv.DeleteChannel(delCtx, channelID); err != nil {
		log.Warn("session channel deletion failed", map[string]interface{}{
			"channelId": channelID,
			"error":     err.Error(),
		})
	}
}
