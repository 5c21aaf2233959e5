// Package events publishes domain events such as user.registered to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Event names.
const (
	UserRegistered    = "user.registered"
	UserLoggedIn      = "user.logged_in"
	ExpenseCreated    = "expense.created"
	FeedbackSubmitted = "feedback.submitted"
	ReferralInvited   = "referral.invited"
	ReferralConverted = "referral.converted"
	WaitlistJoined    = "waitlist.joined"
	FlagUpdated       = "flag.updated"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	Type       string `json:"type"`
	OccurredAt int64  `json:"occurred_at"`
	Data       any    `json:"data"`
}

// Publisher publishes domain events. Implementations never block the caller
// on delivery failures; they log them.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any)
	Close()
}

// NATSPublisher publishes events to subjects "<prefix>.<event>".
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	now    func() time.Time
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("cora-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return NewNATSPublisherWithConn(conn, prefix), nil
}

// NewNATSPublisherWithConn wraps an existing connection.
func NewNATSPublisherWithConn(conn *nats.Conn, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix, now: time.Now}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event string) string {
	if p.prefix == "" {
		return event
	}
	return p.prefix + "." + event
}

// Publish sends the event. Failures are logged.
func (p *NATSPublisher) Publish(ctx context.Context, event string, payload any) {
	data, err := json.Marshal(Envelope{Type: event, OccurredAt: p.now().Unix(), Data: payload})
	if err != nil {
		slog.Error("failed to encode event", "event", event, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		slog.Warn("failed to publish event", "event", event, "error", err)
	}
}

// Flush waits until buffered events reach the server.
func (p *NATSPublisher) Flush(timeout time.Duration) error {
	return p.conn.FlushTimeout(timeout)
}

// Close drains pending events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Noop discards events. It is used when NATS is not configured.
type Noop struct{}

// Publish logs the event at debug level.
func (Noop) Publish(_ context.Context, event string, _ any) {
	slog.Debug("event not published (no broker configured)", "event", event)
}

// Close does nothing.
func (Noop) Close() {}

// Recorder keeps published events in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Envelope
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Envelope{Type: event, OccurredAt: time.Now().Unix(), Data: payload})
}

// Close does nothing.
func (r *Recorder) Close() {}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.Type
	}
	return types
}
