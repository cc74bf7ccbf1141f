// internal/adapter/events/bus.go

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"ketchup/internal/domain/checkin"
	"ketchup/internal/domain/proximity"
)

// Kind identifies the type of a presence event
type Kind string

const (
	KindTransition      Kind = "transition"
	KindSessionCreated  Kind = "session.created"
	KindSessionExtended Kind = "session.extended"
	KindSessionEnded    Kind = "session.ended"
	KindSessionExpired  Kind = "session.expired"
)

// Event is the envelope published for every transition and session change
type Event struct {
	Kind       Kind                       `json:"kind"`
	UserID     string                     `json:"user_id"`
	OccurredAt time.Time                  `json:"occurred_at"`
	Transition *proximity.TransitionEvent `json:"transition,omitempty"`
	Session    *checkin.VenueSession      `json:"session,omitempty"`
}

// Filter selects which events a subscriber receives
type Filter struct {
	UserID string
	// Kinds limits delivery to these kinds; empty means all
	Kinds []Kind
}

// Matches reports whether the filter admits an event
func (f Filter) Matches(evt Event) bool {
	if f.UserID != "" && f.UserID != evt.UserID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == evt.Kind {
			return true
		}
	}
	return false
}

// Conn is the subset of *nats.Conn the bus uses
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// BusConfig contains configuration for the event bus
type BusConfig struct {
	// Prefix is the first subject token, e.g. "presence"
	Prefix string

	// SubscriberBuffer is the channel size handed to each subscriber
	SubscriberBuffer int
}

// Bus publishes presence events to NATS and streams them back to subscribers
type Bus struct {
	conn   Conn
	config BusConfig
	log    logrus.FieldLogger
}

// NewBus creates a new event bus
func NewBus(conn Conn, config BusConfig, log logrus.FieldLogger) *Bus {
	if config.Prefix == "" {
		config.Prefix = "presence"
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 64
	}

	return &Bus{
		conn:   conn,
		config: config,
		log:    log.WithField("component", "events"),
	}
}

// TransitionSubject is where a user's transition events go
func (b *Bus) TransitionSubject(userID string) string {
	return fmt.Sprintf("%s.%s.transition", b.config.Prefix, subjectToken(userID))
}

// SessionSubject is where a user's session changes of one kind go
func (b *Bus) SessionSubject(userID string, kind checkin.ChangeKind) string {
	return fmt.Sprintf("%s.%s.session.%s", b.config.Prefix, subjectToken(userID), kind)
}

// UserSubject matches every event of one user
func (b *Bus) UserSubject(userID string) string {
	return fmt.Sprintf("%s.%s.>", b.config.Prefix, subjectToken(userID))
}

// subjectToken percent-escapes a user id into exactly one subject token.
// Separators, wildcards, whitespace and '%' itself are escaped.
func subjectToken(id string) string {
	const hex = "0123456789ABCDEF"

	var sb strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c == '.' || c == '*' || c == '>' || c == '%' || c <= ' ' || c == 0x7f:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0x0f])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// PublishTransition publishes a confirmed geofence transition
func (b *Bus) PublishTransition(userID string, evt proximity.TransitionEvent) error {
	return b.publish(b.TransitionSubject(userID), Event{
		Kind:       KindTransition,
		UserID:     userID,
		OccurredAt: evt.OccurredAt,
		Transition: &evt,
	})
}

// PublishSessionChange publishes a session lifecycle change
func (b *Bus) PublishSessionChange(change checkin.Change, at time.Time) error {
	s := change.Session
	return b.publish(b.SessionSubject(s.UserID, change.Kind), Event{
		Kind:       SessionKind(change.Kind),
		UserID:     s.UserID,
		OccurredAt: at,
		Transition: change.Cause,
		Session:    &s,
	})
}

func (b *Bus) publish(subject string, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("error encoding %s event: %w", evt.Kind, err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("error publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe streams a user's events matching the filter until ctx ends or cancel is called.
// Events are dropped, not queued, when the subscriber falls behind.
func (b *Bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error) {
	if filter.UserID == "" {
		return nil, nil, fmt.Errorf("subscription requires a user id")
	}

	stream := newStream(b.config.SubscriberBuffer)

	sub, err := b.conn.Subscribe(b.UserSubject(filter.UserID), b.handler(filter, stream))
	if err != nil {
		return nil, nil, fmt.Errorf("error subscribing for user %s: %w", filter.UserID, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				b.log.WithError(err).WithField("user_id", filter.UserID).Debug("Unsubscribe failed")
			}
			stream.close()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stream.done:
		}
	}()

	return stream.ch, cancel, nil
}

// handler decodes messages and forwards matching events to the stream
func (b *Bus) handler(filter Filter, s *stream) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.log.WithError(err).WithField("subject", msg.Subject).Warn("Dropping undecodable event")
			return
		}
		if !filter.Matches(evt) {
			return
		}
		if !s.send(evt) {
			b.log.WithFields(logrus.Fields{
				"user_id": evt.UserID,
				"kind":    evt.Kind,
			}).Debug("Subscriber is behind, dropping event")
		}
	}
}

// SessionKind maps a session change to its event kind
func SessionKind(kind checkin.ChangeKind) Kind {
	return Kind("session." + string(kind))
}

// stream is a subscriber channel that is safe to close while messages arrive
type stream struct {
	mu     sync.Mutex
	ch     chan Event
	done   chan struct{}
	closed bool
}

func newStream(buffer int) *stream {
	return &stream{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

func (s *stream) send(evt Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
}
