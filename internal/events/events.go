// Package events publishes shuffle session lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/config"
	"github.com/lucy-a11y/shuffle/internal/model"
)

// Event types.
const (
	TypeShuffleStarted  = "shuffle.started"
	TypeShuffleFinished = "shuffle.finished"
)

// Event is the payload published for a session state change.
type Event struct {
	Type              string              `json:"type"`
	SessionID         string              `json:"session_id"`
	ProjectID         int64               `json:"project_id"`
	UserID            string              `json:"user_id"`
	Category          string              `json:"category"`
	Status            model.SessionStatus `json:"status"`
	TotalSites        int                 `json:"total_sites"`
	ScannedSites      int                 `json:"scanned_sites"`
	NonCompliantSites int                 `json:"non_compliant_sites"`
	FailedSites       int                 `json:"failed_sites"`
	LeadsGenerated    int                 `json:"leads_generated"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	OccurredAt        time.Time           `json:"occurred_at"`
}

// FromSession builds an event of the given type from the session's current state.
func FromSession(typ string, s *model.ShuffleSession, at time.Time) Event {
	return Event{
		Type:              typ,
		SessionID:         s.ID,
		ProjectID:         s.ProjectID,
		UserID:            s.UserID,
		Category:          s.Category,
		Status:            s.Status,
		TotalSites:        s.TotalSites,
		ScannedSites:      s.ScannedSites,
		NonCompliantSites: s.NonCompliantSites,
		FailedSites:       s.FailedSites,
		LeadsGenerated:    s.LeadsGenerated,
		ErrorMessage:      s.ErrorMessage,
		OccurredAt:        at.UTC(),
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New returns the publisher selected by cfg.Provider.
func New(ctx context.Context, cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Provider {
	case "", "none":
		return Nop{}, nil
	case "log":
		return NewLogPublisher(zap.L()), nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, eris.Wrap(err, "events: create pubsub client")
		}
		return NewPubSubPublisher(client, cfg.TopicID), nil
	default:
		return nil, eris.Errorf("events: unknown provider %q", cfg.Provider)
	}
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }

// LogPublisher writes events to a zap logger.
type LogPublisher struct {
	log *zap.Logger
}

// NewLogPublisher creates a publisher that logs each event at info level.
func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.With(zap.String("component", "events"))}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.log.Info("session event",
		zap.String("type", e.Type),
		zap.String("session_id", e.SessionID),
		zap.Int64("project_id", e.ProjectID),
		zap.String("status", string(e.Status)),
		zap.Int("total_sites", e.TotalSites),
		zap.Int("scanned_sites", e.ScannedSites),
		zap.Int("leads_generated", e.LeadsGenerated),
	)
	return nil
}

// Close does nothing.
func (p *LogPublisher) Close() error { return nil }

// PubSubPublisher publishes events as JSON messages to a Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher wraps a client and topic id. The publisher owns the client.
func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{client: client, topic: client.Topic(topicID)}
}

// Publish marshals the event and waits for the server to accept it.
func (p *PubSubPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":       e.Type,
			"session_id": e.SessionID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return eris.Wrap(err, "events: publish")
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return eris.Wrap(p.client.Close(), "events: close pubsub client")
}
