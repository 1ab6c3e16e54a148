// Package audit writes workflow events to Elasticsearch. Indexing is
// strictly best-effort: a failed write is logged and dropped, it never
// blocks or fails the workflow.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"

	"intake-engine/internal/common/logger"
	"intake-engine/internal/models"
)

const indexName = "intake-audit"

// Event is one audit trail entry.
type Event struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	ApplicantID string    `json:"applicantId"`
	ActorID     string    `json:"actorId,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Trail records workflow events. Implementations must be safe for
// concurrent use.
type Trail interface {
	SubmissionReceived(ctx context.Context, sub *models.Submission)
	DecisionMade(ctx context.Context, app *models.Application)
}

// ElasticTrail indexes events into a single Elasticsearch index.
type ElasticTrail struct {
	client *elasticsearch.Client
	logger logger.Logger
}

func NewElasticTrail(client *elasticsearch.Client, log logger.Logger) *ElasticTrail {
	return &ElasticTrail{
		client: client,
		logger: log.WithFields(map[string]interface{}{"component": "audit-trail"}),
	}
}

func (t *ElasticTrail) SubmissionReceived(ctx context.Context, sub *models.Submission) {
	t.index(ctx, Event{
		Kind:        "submission_received",
		ApplicantID: sub.ApplicantID,
		Detail:      fmt.Sprintf("displayName=%s answers=%d", sub.DisplayName, len(sub.Answers)),
		Timestamp:   sub.CompletedAt,
	})
}

func (t *ElasticTrail) DecisionMade(ctx context.Context, app *models.Application) {
	detail := string(app.Status)
	if app.RejectionReason != "" {
		detail = fmt.Sprintf("%s reason=%s", detail, app.RejectionReason)
	}
	t.index(ctx, Event{
		Kind:        "decision_made",
		ApplicantID: app.ApplicantID,
		ActorID:     app.DecidedBy,
		Detail:      detail,
		Timestamp:   time.Now().UTC(),
	})
}

func (t *ElasticTrail) index(ctx context.Context, ev Event) {
	ev.ID = uuid.New().String()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		t.logger.Warn("audit event marshal failed", map[string]interface{}{"error": err.Error()})
		return
	}

	res, err := t.client.Index(
		indexName,
		bytes.NewReader(body),
		t.client.Index.WithContext(ctx),
		t.client.Index.WithDocumentID(ev.ID),
	)
	if err != nil {
		t.logger.Warn("audit event indexing failed", map[string]interface{}{
			"kind":  ev.Kind,
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		t.logger.Warn("audit event rejected by elasticsearch", map[string]interface{}{
			"kind":   ev.Kind,
			"status": res.Status(),
		})
	}
}

// NopTrail discards events. Used when the audit backend is disabled.
type NopTrail struct{}

func (NopTrail) SubmissionReceived(context.Context, *models.Submission) {}
func (NopTrail) DecisionMade(context.Context, *models.Application)      {}
