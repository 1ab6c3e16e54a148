// Package transport defines the conversation-platform seam. The intake core
// only ever talks to the chat platform through these interfaces; the concrete
// client lives outside this repository.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ChannelRef identifies a conversation channel on the platform.
type ChannelRef struct {
	ID   string
	Name string
}

// Message is one incoming message in a channel.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	Timestamp time.Time
}

// MessageRef identifies a posted message, used for audit correlation.
type MessageRef struct {
	ID        string
	ChannelID string
}

// Button is an action control attached to an outgoing message. ID carries
// the trigger routing key (e.g. "approve:<applicantId>").
type Button struct {
	ID    string
	Label string
}

// Attachment is an in-memory file attached to an outgoing message.
type Attachment struct {
	Name string
	Data []byte
}

// Outgoing is the platform-agnostic outgoing message shape.
type Outgoing struct {
	Content    string
	Buttons    []Button
	Attachment *Attachment
}

// Subscription yields messages matching a predicate until cancelled. Cancel
// is idempotent and releases the underlying platform listener.
type Subscription interface {
	Messages() <-chan Message
	Cancel()
}

// Conversation is the channel-level surface of the chat platform. Channel
// deletion is best-effort on the caller side: failures are logged, not raised
// into the workflow.
type Conversation interface {
	CreatePrivateChannel(ctx context.Context, name, ownerID string, visibleToRoles []string) (ChannelRef, error)
	SendMessage(ctx context.Context, channelID string, out Outgoing) (MessageRef, error)
	SubscribeMessages(channelID string, predicate func(Message) bool) (Subscription, error)
	ListMessages(ctx context.Context, channelID string, limit int) ([]Message, error)
	DeleteChannel(ctx context.Context, channelID string) error
	GrantRole(ctx context.Context, userID, roleID string) error
}

// TriggerKind distinguishes the actions the engine reacts to.
type TriggerKind string

const (
	TriggerIntakeStart TriggerKind = "intake:start"
	TriggerApprove     TriggerKind = "approve"
	TriggerReject      TriggerKind = "reject"
)

// Trigger is one incoming action (a button press) with its acknowledgment
// callback. PayloadID carries the applicant identifier for approve/reject.
type Trigger struct {
	Kind      TriggerKind
	ActorID   string
	PayloadID string
	ChannelID string
	Ack       AckFunc
}

// AckFunc answers a trigger. The platform requires exactly one
// acknowledgment per trigger, sent before any other reply to the actor.
type AckFunc func(ctx context.Context, content string) error

// ErrAlreadyAcknowledged is returned by a single-ack wrapper on the second
// and later calls.
var ErrAlreadyAcknowledged = errors.New("trigger already acknowledged")

// SingleAck wraps an AckFunc so only the first call reaches the platform.
// Later calls report ErrAlreadyAcknowledged, which boundary error handlers
// use to decide whether a generic failure reply is still needed.
func SingleAck(ack AckFunc) AckFunc {
	var once sync.Once
	return func(ctx context.Context, content string) error {
		err := ErrAlreadyAcknowledged
		once.Do(func() {
			err = ack(ctx, content)
		})
		return err
	}
}

// TriggerSource delivers incoming triggers to the dispatch loop.
type TriggerSource interface {
	Triggers() <-chan Trigger
}

// CommandSink is the one-way provisioning command channel.
type CommandSink interface {
	Send(ctx context.Context, command string) error
}

// ChannelCommandSink forwards provisioning commands into a designated
// conversation channel, fire-and-forget.
type ChannelCommandSink struct {
	Conv      Conversation
	ChannelID string
}

func (s *ChannelCommandSink) Send(ctx context.Context, command string) error {
	_, err := s.Conv.SendMessage(ctx, s.ChannelID, Outgoing{Content: command})
	return err
}
