// Package review handles what happens after an intake session completes:
// posting the submission for staff review and processing the staff decision.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intake-engine/internal/audit"
	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
	"intake-engine/internal/store"
	"intake-engine/internal/transport"
)

// Alerter delivers operator notifications about degraded durability.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// Dispatcher turns a completed submission into a pending application record
// and a review posting. The review posting is mandatory; persistence is
// retried by the store and, if it still fails, degraded to an operator alert
// so the submission is never silently lost.
type Dispatcher struct {
	store           store.Applications
	conv            transport.Conversation
	trail           audit.Trail
	alerter         Alerter
	reviewChannelID string
	logger          logger.Logger
}

func NewDispatcher(
	st store.Applications,
	conv transport.Conversation,
	trail audit.Trail,
	alerter Alerter,
	reviewChannelID string,
	log logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:           st,
		conv:            conv,
		trail:           trail,
		alerter:         alerter,
		reviewChannelID: reviewChannelID,
		logger:          log.WithFields(map[string]interface{}{"component": "review-dispatcher"}),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, sub *models.Submission) error {
	log := d.logger.WithFields(map[string]interface{}{"applicantId": sub.ApplicantID})

	app := &models.Application{
		ApplicantID:     sub.ApplicantID,
		DisplayName:     sub.DisplayName,
		Answers:         sub.Answers,
		Status:          models.StatusPending,
		CreatedAt:       sub.CompletedAt,
		ReviewChannelID: d.reviewChannelID,
	}

	if err := d.store.Create(ctx, app); err != nil {
		log.Error("application record write failed, review posting proceeds", map[string]interface{}{
			"error": err.Error(),
		})
		d.alert(sub, err)
	}

	out := transport.Outgoing{
		Content: renderSubmission(sub),
		Buttons: []transport.Button{
			{ID: fmt.Sprintf("approve:%s", sub.ApplicantID), Label: "Approve"},
			{ID: fmt.Sprintf("reject:%s", sub.ApplicantID), Label: "Reject"},
		},
		Attachment: &transport.Attachment{
			Name: fmt.Sprintf("application-%s.txt", sub.ApplicantID),
			Data: renderAttachment(sub),
		},
	}
	if _, err := d.conv.SendMessage(ctx, d.reviewChannelID, out); err != nil {
		return fmt.Errorf("post submission for review: %w", err)
	}

	d.trail.SubmissionReceived(ctx, sub)
	log.Info("submission posted for review", map[string]interface{}{
		"answers": len(sub.Answers),
	})
	return nil
}

func (d *Dispatcher) alert(sub *models.Submission, cause error) {
	if d.alerter == nil {
		return
	}
	alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := fmt.Sprintf(
		"Application record for applicant %s (%s) could not be persisted: %v\nThe review posting is the only remaining copy.",
		sub.ApplicantID, sub.DisplayName, cause,
	)
	if err := d.alerter.Alert(alertCtx, "Intake record write failed", msg); err != nil {
		d.logger.Error("operator alert delivery failed", map[string]interface{}{
			"applicantId": sub.ApplicantID,
			"error":       err.Error(),
		})
	}
}

func renderSubmission(sub *models.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**New application from %s** (<@%s>)\n\n", sub.DisplayName, sub.ApplicantID)
	for _, ans := range sub.Answers {
		fmt.Fprintf(&b, "**%s**\n%s\n\n", ans.Key, ans.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderAttachment(sub *models.Submission) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant: %s (%s)\n", sub.DisplayName, sub.ApplicantID)
	fmt.Fprintf(&b, "Completed: %s\n\n", sub.CompletedAt.Format(time.RFC3339))
	for _, ans := range sub.Answers {
		fmt.Fprintf(&b, "%s: %s\n", ans.Key, ans.Value)
	}
	return []byte(b.String())
}
