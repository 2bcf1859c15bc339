package pubsub

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event types published by the branching service
const (
	EventBranching         = "participation.branching"
	EventEnded             = "participation.ended"
	EventDisqualified      = "participation.disqualified"
	EventRulesImported     = "survey.rules_imported"
	EventIntegrityChecked  = "survey.integrity_checked"
	EventIntegrityViolated = "survey.integrity_violated"
)

// Event is the envelope written to pub/sub and to the replay stream.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type Bus struct {
	rdb     *redis.Client
	log     *zap.Logger
	streams *Streams
	hub     Broadcaster
	now     func() time.Time
}

// Broadcaster forwards published events to live subscribers
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		rdb:     rdb,
		log:     log,
		streams: NewStreams(rdb, log),
		now:     time.Now,
	}
}

// SetBroadcaster sets the WebSocket hub for event broadcasting
func (b *Bus) SetBroadcaster(hub Broadcaster) {
	b.hub = hub
}

// GetStreams returns the streams provider
func (b *Bus) GetStreams() *Streams {
	return b.streams
}

func ParticipationChannel(participationID int64) string {
	return fmt.Sprintf("participation:%d", participationID)
}

func SurveyChannel(surveyID int64) string {
	return fmt.Sprintf("survey:%d", surveyID)
}

// PublishParticipation publishes an event to a participation's channel
func (b *Bus) PublishParticipation(ctx context.Context, participationID int64, eventType string, data map[string]any) error {
	return b.Publish(ctx, ParticipationChannel(participationID), eventType, data)
}

// PublishSurvey publishes an event to a survey's channel
func (b *Bus) PublishSurvey(ctx context.Context, surveyID int64, eventType string, data map[string]any) error {
	return b.Publish(ctx, SurveyChannel(surveyID), eventType, data)
}

// Publish publishes an event to a channel and appends it to the channel's
// replay stream. A stream failure is logged but does not fail the publish.
func (b *Bus) Publish(ctx context.Context, channel, eventType string, data map[string]any) error {
	ev := newEvent(channel, eventType, data, b.now())
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	if _, err := b.streams.Append(ctx, channel, payload); err != nil {
		b.log.Warn("Failed to publish to stream", zap.String("channel", channel), zap.Error(err))
	}

	if b.hub != nil {
		b.hub.Broadcast(channel, payload)
	}

	b.log.Debug("Published event",
		zap.String("channel", channel),
		zap.String("type", eventType),
		zap.String("event_id", ev.ID),
	)
	return nil
}

func newEvent(channel, eventType string, data map[string]any, at time.Time) Event {
	return Event{
		ID:        ulid.MustNew(ulid.Timestamp(at), rand.Reader).String(),
		Type:      eventType,
		Channel:   channel,
		Data:      data,
		Timestamp: at.UTC(),
	}
}
