// Package transporttest provides an in-memory Conversation implementation
// for component tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"intake-engine/internal/transport"
)

// RoleGrant records one GrantRole call.
type RoleGrant struct {
	UserID string
	RoleID string
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	ChannelID string
	Out       transport.Outgoing
}

// FakeConversation is an in-memory Conversation. Tests inject incoming
// messages with Receive and inspect Sent/Deleted/Grants afterwards.
type FakeConversation struct {
	mu sync.Mutex

	nextChannel int
	nextMessage int

	Sent    []SentMessage
	Deleted []string
	Grants  []RoleGrant

	// Seeded holds pre-existing channel history returned by ListMessages
	// in addition to anything sent through the fake.
	Seeded map[string][]transport.Message

	subs map[string][]*fakeSubscription

	// Failure injection.
	CreateErr error
	SendErr   map[string]error
	DeleteErr map[string]error
	GrantErr  error
	ListErr   error
}

func NewFakeConversation() *FakeConversation {
	return &FakeConversation{
		Seeded:    make(map[string][]transport.Message),
		subs:      make(map[string][]*fakeSubscription),
		SendErr:   make(map[string]error),
		DeleteErr: make(map[string]error),
	}
}

func (f *FakeConversation) CreatePrivateChannel(_ context.Context, name, ownerID string, _ []string) (transport.ChannelRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return transport.ChannelRef{}, f.CreateErr
	}
	f.nextChannel++
	return transport.ChannelRef{ID: fmt.Sprintf("chan-%d", f.nextChannel), Name: name}, nil
}

func (f *FakeConversation) SendMessage(_ context.Context, channelID string, out transport.Outgoing) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SendErr[channelID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.nextMessage++
	f.Sent = append(f.Sent, SentMessage{ChannelID: channelID, Out: out})
	return transport.MessageRef{ID: fmt.Sprintf("msg-%d", f.nextMessage), ChannelID: channelID}, nil
}

func (f *FakeConversation) SubscribeMessages(channelID string, predicate func(transport.Message) bool) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSubscription{
		conv:      f,
		channelID: channelID,
		predicate: predicate,
		ch:        make(chan transport.Message, 8),
	}
	f.subs[channelID] = append(f.subs[channelID], sub)
	return sub, nil
}

func (f *FakeConversation) ListMessages(_ context.Context, channelID string, limit int) ([]transport.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	msgs := append([]transport.Message(nil), f.Seeded[channelID]...)
	for _, s := range f.Sent {
		if s.ChannelID == channelID {
			msgs = append(msgs, transport.Message{ChannelID: channelID, Content: s.Out.Content})
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *FakeConversation) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	if err := f.DeleteErr[channelID]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.Deleted = append(f.Deleted, channelID)
	subs := f.subs[channelID]
	delete(f.subs, channelID)
	f.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	return nil
}

func (f *FakeConversation) GrantRole(_ context.Context, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GrantErr != nil {
		return f.GrantErr
	}
	f.Grants = append(f.Grants, RoleGrant{UserID: userID, RoleID: roleID})
	return nil
}

// Receive delivers an incoming message to every live matching subscription
// on its channel.
func (f *FakeConversation) Receive(msg transport.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	f.mu.Lock()
	subs := append([]*fakeSubscription(nil), f.subs[msg.ChannelID]...)
	f.mu.Unlock()

	for _, s := range subs {
		s.deliver(msg)
	}
}

// ActiveSubscriptions reports live subscriptions on a channel; tests use it
// to prove collectors never leak.
func (f *FakeConversation) ActiveSubscriptions(channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[channelID])
}

// SentTo returns the messages sent to one channel, in order.
func (f *FakeConversation) SentTo(channelID string) []transport.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Outgoing
	for _, s := range f.Sent {
		if s.ChannelID == channelID {
			out = append(out, s.Out)
		}
	}
	return out
}

type fakeSubscription struct {
	conv      *FakeConversation
	channelID string
	predicate func(transport.Message) bool
	ch        chan transport.Message
	closed    sync.Once
}

func (s *fakeSubscription) Messages() <-chan transport.Message {
	return s.ch
}

func (s *fakeSubscription) Cancel() {
	s.closed.Do(func() {
		s.conv.mu.Lock()
		subs := s.conv.subs[s.channelID]
		for i, other := range subs {
			if other == s {
				s.conv.subs[s.channelID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.conv.mu.Unlock()
		close(s.ch)
	})
}

func (s *fakeSubscription) deliver(msg transport.Message) {
	if s.predicate != nil && !s.predicate(msg) {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

// FakeAck records acknowledgments sent to a trigger actor.
type FakeAck struct {
	mu       sync.Mutex
	Contents []string
}

func (a *FakeAck) Ack(_ context.Context, content string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Contents = append(a.Contents, content)
	return nil
}

func (a *FakeAck) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Contents)
}

func (a *FakeAck) Last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Contents) == 0 {
		return ""
	}
	return a.Contents[len(a.Contents)-1]
}
