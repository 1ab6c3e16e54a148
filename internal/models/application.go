package models

import (
	"strings"
	"time"
)

// Status represents the application decision lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is valid from this status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Answer is one collected (questionKey, answerText) pair. Order is
// meaningful: answers are stored and rendered in question order.
type Answer struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Application is the persisted applicant submission.
type Application struct {
	ID              string    `json:"id" db:"id"`
	ApplicantID     string    `json:"applicantId" db:"applicant_id"`
	DisplayName     string    `json:"displayName" db:"display_name"`
	Answers         []Answer  `json:"answers" db:"answers"`
	Status          Status    `json:"status" db:"status"`
	DecidedBy       string    `json:"decidedBy,omitempty" db:"decided_by"`
	RejectionReason string    `json:"rejectionReason,omitempty" db:"rejection_reason"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	ReviewChannelID string    `json:"reviewChannelId,omitempty" db:"review_channel_id"`
}

// AnswerByKey returns the first answer whose key contains the given fragment.
// Lookup by fragment mirrors how operators label questions ("Password",
// "Character name") without forcing exact key matches.
func (a *Application) AnswerByKey(fragment string) (string, bool) {
	for _, ans := range a.Answers {
		if containsFold(ans.Key, fragment) {
			return ans.Value, true
		}
	}
	return "", false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Submission is the compiled output of a finished intake session, handed to
// the review dispatcher. The first answer is the display name by convention.
type Submission struct {
	ApplicantID string
	DisplayName string
	Answers     []Answer
	CompletedAt time.Time
}
