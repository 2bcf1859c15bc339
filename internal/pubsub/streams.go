package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStreamMaxLen caps each channel's replay stream (approximate trim).
const DefaultStreamMaxLen = 1000

// Stream ids are "<ms>" or "<ms>-<seq>".
var streamIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?$`)

// ValidStreamID reports whether id can be used as a replay position.
func ValidStreamID(id string) bool {
	return streamIDPattern.MatchString(id)
}

// StreamEvent is an event read back from a replay stream
type StreamEvent struct {
	StreamID string `json:"streamId"`
	Event
}

// Streams manages Redis Streams for event replay
type Streams struct {
	rdb    *redis.Client
	log    *zap.Logger
	maxLen int64
}

// NewStreams creates a new Streams manager
func NewStreams(rdb *redis.Client, log *zap.Logger) *Streams {
	return &Streams{
		rdb:    rdb,
		log:    log,
		maxLen: DefaultStreamMaxLen,
	}
}

func streamKey(channel string) string {
	return "stream:" + channel
}

// Append adds an encoded event to the channel's stream and returns its stream id.
func (s *Streams) Append(ctx context.Context, channel string, payload []byte) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(channel),
		MaxLen: s.maxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{"data": string(payload)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add to stream: %w", err)
	}
	return id, nil
}

// Replay returns up to limit events recorded after sinceID. An empty sinceID
// reads from the start of the stream.
func (s *Streams) Replay(ctx context.Context, channel, sinceID string, limit int64) ([]StreamEvent, error) {
	start := "-"
	if sinceID != "" {
		start = "(" + sinceID
	}

	msgs, err := s.rdb.XRangeN(ctx, streamKey(channel), start, "+", limit).Result()
	if err == redis.Nil {
		return []StreamEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	return decodeMessages(msgs, s.log), nil
}

func decodeMessages(msgs []redis.XMessage, log *zap.Logger) []StreamEvent {
	events := make([]StreamEvent, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			log.Warn("Failed to unmarshal event", zap.String("stream_id", msg.ID), zap.Error(err))
			continue
		}
		events = append(events, StreamEvent{StreamID: msg.ID, Event: ev})
	}
	return events
}
