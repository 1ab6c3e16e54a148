package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intake-engine/internal/audit"
	apperrors "intake-engine/internal/common/errors"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/common/metrics"
	"intake-engine/internal/intake"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
	"intake-engine/internal/transport"
)

// ProcessorConfig carries the processor's slice of the validated process
// configuration.
type ProcessorConfig struct {
	ApprovedChannelID string
	RejectedChannelID string
	ApprovedRoleID    string
	ReasonTimeout     time.Duration
}

// Processor applies staff approve/reject decisions. Decisions on one
// applicant are serialized through the distributed lock; repeating a
// decision on a finished application is a no-op with an explanatory reply.
type Processor struct {
	store      store.Applications
	conv       transport.Conversation
	collectors *intake.Collectors
	sink       transport.CommandSink
	lock       DecisionLock
	trail      audit.Trail
	cfg        ProcessorConfig
	logger     logger.Logger
}

func NewProcessor(
	st store.Applications,
	conv transport.Conversation,
	collectors *intake.Collectors,
	sink transport.CommandSink,
	lock DecisionLock,
	trail audit.Trail,
	cfg ProcessorConfig,
	log logger.Logger,
) *Processor {
	return &Processor{
		store:      st,
		conv:       conv,
		collectors: collectors,
		sink:       sink,
		lock:       lock,
		trail:      trail,
		cfg:        cfg,
		logger:     log.WithFields(map[string]interface{}{"component": "decision-processor"}),
	}
}

// Approve handles an approve trigger for the applicant in trig.PayloadID.
func (p *Processor) Approve(ctx context.Context, trig transport.Trigger) error {
	return p.withDecision(ctx, trig, p.approve)
}

// Reject handles a reject trigger. The acknowledgment doubles as the
// rejection reason prompt; the record only leaves pending once the reason
// arrives.
func (p *Processor) Reject(ctx context.Context, trig transport.Trigger) error {
	return p.withDecision(ctx, trig, p.reject)
}

func (p *Processor) withDecision(
	ctx context.Context,
	trig transport.Trigger,
	fn func(ctx context.Context, trig transport.Trigger, app *models.Application, log logger.Logger) error,
) error {
	applicantID := trig.PayloadID
	log := p.logger.WithFields(map[string]interface{}{
		"applicantId": applicantID,
		"actorId":     trig.ActorID,
	})

	locked, err := p.lock.Acquire(ctx, applicantID)
	if err != nil {
		log.Warn("decision lock unavailable, proceeding unlocked", map[string]interface{}{
			"error": err.Error(),
		})
	} else if !locked {
		metrics.Decisions.WithLabelValues("in_progress").Inc()
		log.WithError(apperrors.NewDecisionInProgressError(applicantID)).Info("decision turned away", nil)
		_ = trig.Ack(ctx, "Another staff action on this application is already being processed.")
		return nil
	} else {
		defer p.releaseLock(applicantID, log)
	}

	app, err := p.store.FindPending(ctx, applicantID)
	if err != nil {
		_ = trig.Ack(ctx, "Could not look up the application. Please try again.")
		return err
	}
	if app == nil {
		metrics.Decisions.WithLabelValues("not_found").Inc()
		log.WithError(apperrors.NewRecordNotFoundError(applicantID)).Info("decision turned away", nil)
		_ = trig.Ack(ctx, "No pending application found for this applicant. It may already have been decided.")
		return nil
	}
	if app.Status.Terminal() {
		metrics.Decisions.WithLabelValues("already_decided").Inc()
		log.WithError(apperrors.NewAlreadyDecidedError(applicantID, string(app.Status))).Info("decision turned away", nil)
		_ = trig.Ack(ctx, fmt.Sprintf("This application was already %s.", app.Status))
		return nil
	}

	return fn(ctx, trig, app, log)
}

func (p *Processor) releaseLock(applicantID string, log logger.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.lock.Release(releaseCtx, applicantID); err != nil {
		log.Warn("decision lock release failed", map[string]interface{}{"error": err.Error()})
	}
}

func (p *Processor) approve(ctx context.Context, trig transport.Trigger, app *models.Application, log logger.Logger) error {
	// Role, notice, and provisioning go out before the status write. If the
	// write fails the applicant still gets access and the record stays
	// pending for a staff retry, which is the cheaper mistake.
	if err := p.conv.GrantRole(ctx, app.ApplicantID, p.cfg.ApprovedRoleID); err != nil {
		log.WithError(apperrors.NewRoleGrantFailedError(app.ApplicantID, err)).Warn("role grant failed", nil)
	}

	notice := fmt.Sprintf("<@%s> your application was approved. Welcome, %s!", app.ApplicantID, app.DisplayName)
	if _, err := p.conv.SendMessage(ctx, p.cfg.ApprovedChannelID, transport.Outgoing{Content: notice}); err != nil {
		log.WithError(apperrors.NewNotificationSendFailedError(p.cfg.ApprovedChannelID, err)).Warn("approval notice failed", nil)
	}

	if err := p.provision(ctx, app, log); err != nil {
		log.Error("provisioning command failed", map[string]interface{}{"error": err.Error()})
	}

	app.Status = models.StatusApproved
	app.DecidedBy = trig.ActorID
	if err := p.store.Save(ctx, app); err != nil {
		_ = trig.Ack(ctx, "Approval side effects ran but the record update failed. Press Approve again to retry.")
		return err
	}

	metrics.Decisions.WithLabelValues("approved").Inc()
	p.trail.DecisionMade(ctx, app)
	log.Info("application approved", nil)
	return trig.Ack(ctx, fmt.Sprintf("Approved %s.", app.DisplayName))
}

func (p *Processor) provision(ctx context.Context, app *models.Application, log logger.Logger) error {
	password, ok := app.AnswerByKey("password")
	if !ok {
		log.Warn("no password answer on record, skipping provisioning", nil)
		return nil
	}
	command := fmt.Sprintf("adduser nick:%s secret:%s", app.DisplayName, password)
	if err := p.sink.Send(ctx, command); err != nil {
		return apperrors.NewProvisionSendFailedError(err)
	}
	return nil
}

func (p *Processor) reject(ctx context.Context, trig transport.Trigger, app *models.Application, log logger.Logger) error {
	prompt := fmt.Sprintf(
		"Reply in this channel with the rejection reason for %s. You have %s.",
		app.DisplayName, p.cfg.ReasonTimeout,
	)
	if err := trig.Ack(ctx, prompt); err != nil {
		return fmt.Errorf("prompt for rejection reason: %w", err)
	}

	reply, err := p.collectors.Collect(trig.ChannelID, trig.ActorID, p.cfg.ReasonTimeout)
	if err != nil {
		p.notify(trig.ChannelID, "Could not wait for a reason right now. Press Reject again.")
		return err
	}

	msg, err := reply.Wait(ctx)
	if err != nil {
		if errors.Is(err, intake.ErrAwaitTimeout) {
			metrics.Decisions.WithLabelValues("reason_timeout").Inc()
			p.notify(trig.ChannelID, fmt.Sprintf(
				"No reason received, %s stays pending. Press Reject again to retry.", app.DisplayName))
			log.WithError(apperrors.NewReasonTimeoutError(trig.ActorID)).
				Info("rejection abandoned, no reason received", nil)
			return nil
		}
		return err
	}

	app.Status = models.StatusRejected
	app.DecidedBy = trig.ActorID
	app.RejectionReason = msg.Content
	if err := p.store.Save(ctx, app); err != nil {
		p.notify(trig.ChannelID, "The rejection could not be recorded. Press Reject again to retry.")
		return err
	}

	notice := fmt.Sprintf("<@%s> your application was rejected. Reason: %s", app.ApplicantID, msg.Content)
	if _, err := p.conv.SendMessage(ctx, p.cfg.RejectedChannelID, transport.Outgoing{Content: notice}); err != nil {
		log.WithError(apperrors.NewNotificationSendFailedError(p.cfg.RejectedChannelID, err)).Warn("rejection notice failed", nil)
	}

	metrics.Decisions.WithLabelValues("rejected").Inc()
	p.trail.DecisionMade(ctx, app)
	log.Info("application rejected", map[string]interface{}{"reason": msg.Content})
	p.notify(trig.ChannelID, fmt.Sprintf("Rejected %s.", app.DisplayName))
	return nil
}

func (p *Processor) notify(channelID, content string) {
	sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := p.conv.SendMessage(sendCtx, channelID, transport.Outgoing{Content: content}); err != nil {
		p.logger.Warn("staff notice failed", map[string]interface{}{
			"channelId": channelID,
			"error":     err.Error(),
		})
	}
}
