// Package events publishes meeting processing events to Redis pub/sub so
// other services can follow a run without holding the stream open.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/yf-hk/ai-meeting-digest/pkg/logging"
	"github.com/yf-hk/ai-meeting-digest/pkg/model"
	"github.com/yf-hk/ai-meeting-digest/pkg/stream"
)

// Redis channels
const (
	ChannelStatusChanged = "meeting.status_changed"
	ChannelProcessing    = "events.meeting.processing"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a fresh id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "meeting-digest",
		Version:   "1.0",
	}
}

// StatusChangedEvent is published whenever a meeting's status is written.
type StatusChangedEvent struct {
	BaseEvent

	MeetingID        string       `json:"meeting_id"`
	UserID           string       `json:"user_id"`
	RunID            string       `json:"run_id"`
	Status           model.Status `json:"status"`
	AnalysisComplete bool         `json:"analysis_complete"`
	Reason           string       `json:"reason,omitempty"`
}

// ProcessingEvent mirrors one event relayed on a processing stream.
type ProcessingEvent struct {
	BaseEvent

	MeetingID string          `json:"meeting_id"`
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Type      stream.Type     `json:"type"`
	Frame     json.RawMessage `json:"frame"`
}

// StatusChange describes a status write.
type StatusChange struct {
	MeetingID        string
	UserID           string
	RunID            string
	TraceID          string
	Status           model.Status
	AnalysisComplete bool
	Reason           string
}

// Emitter is what the processor publishes through.
type Emitter interface {
	StatusChanged(ctx context.Context, change StatusChange) error
	StreamEvent(ctx context.Context, meetingID, runID string, seq int, ev stream.Event) error
}

// RedisClient is the subset of *redis.Client the publisher needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes events to Redis.
type Publisher struct {
	client RedisClient
	logger logging.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(client RedisClient, logger logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// StatusChanged implements Emitter.
func (p *Publisher) StatusChanged(ctx context.Context, change StatusChange) error {
	event := StatusChangedEvent{
		BaseEvent:        NewBaseEvent(ChannelStatusChanged),
		MeetingID:        change.MeetingID,
		UserID:           change.UserID,
		RunID:            change.RunID,
		Status:           change.Status,
		AnalysisComplete: change.AnalysisComplete,
		Reason:           change.Reason,
	}
	event.TraceID = change.TraceID
	return p.publish(ctx, ChannelStatusChanged, event)
}

// StreamEvent implements Emitter.
func (p *Publisher) StreamEvent(ctx context.Context, meetingID, runID string, seq int, ev stream.Event) error {
	frame, err := stream.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", ev.Type(), err)
	}
	event := ProcessingEvent{
		BaseEvent: NewBaseEvent("meeting.processing." + string(ev.Type())),
		MeetingID: meetingID,
		RunID:     runID,
		Seq:       seq,
		Type:      ev.Type(),
		Frame:     frame,
	}
	return p.publish(ctx, ChannelProcessing, event)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Noop discards events. It is used when Redis is not configured.
type Noop struct{}

// StatusChanged implements Emitter.
func (Noop) StatusChanged(context.Context, StatusChange) error { return nil }

// StreamEvent implements Emitter.
func (Noop) StreamEvent(context.Context, string, string, int, stream.Event) error { return nil }
