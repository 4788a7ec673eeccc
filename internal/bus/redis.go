// Package bus is the cross-node event fan-out substrate: pub/sub for
// ephemeral events, streams for ordered call events, all behind a circuit
// breaker so a Redis outage degrades gracefully instead of crashing
// request handlers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/wolftown-io/canis-server/internal/logging"
	"github.com/wolftown-io/canis-server/internal/metrics"
	"go.uber.org/zap"
)

// Envelope is the standardized container for moving events between nodes.
type Envelope struct {
	Topic    string          `json:"topic"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"` // prevents echo loops
}

// Topic builders matching the topology in the signaling & event bus design.
func ChannelTopic(channelID string) string { return fmt.Sprintf("channel:%s", channelID) }
func UserTopic(userID string) string       { return fmt.Sprintf("user:%s", userID) }
func GuildTopic(guildID string) string     { return fmt.Sprintf("guild:%s", guildID) }
func BotTopic(botUserID string) string     { return fmt.Sprintf("bot:%s", botUserID) }
func CallStreamKey(channelID string) string {
	return fmt.Sprintf("call_events:%s", channelID)
}

const AdminEventsTopic = "admin:events"

// Service handles all interaction with the shared Redis store.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client (nil-safe).
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService dials Redis and wraps it with a circuit breaker.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// Publish broadcasts an event to every node subscribed to topic.
func (s *Service) Publish(ctx context.Context, topic, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil // single-instance mode
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		innerBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}

		msg := Envelope{
			Topic:    topic,
			Event:    event,
			Payload:  innerBytes,
			SenderID: senderID,
		}

		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, topic, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "redis circuit breaker open: dropping publish", zap.String("topic", topic))
			return nil // graceful degradation
		}
		logging.Error(ctx, "redis publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}

	return nil
}

// Subscribe starts a background goroutine delivering messages from topic to
// handler until ctx is cancelled or the subscription dies. The caller owns
// the per-connection sink: a slow handler that cannot keep up must be torn
// down by the caller rather than allowed to block this loop indefinitely.
func (s *Service) Subscribe(ctx context.Context, topic string, wg *sync.WaitGroup, handler func(Envelope)) {
	if s == nil || s.client == nil {
		return
	}

	pubsub := s.client.Subscribe(ctx, topic)

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer pubsub.Close()
		if wg != nil {
			defer wg.Done()
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					logging.Error(ctx, "failed to unmarshal bus message", zap.String("topic", topic), zap.Error(err))
					continue
				}
				handler(envelope)
			}
		}
	}()
}

// AppendCallEvent appends an event to the per-channel call stream and
// refreshes its TTL, implementing the TTL schedule from the DM call
// coordinator design (120s while ringing, cleared once active, 5s once
// ended).
func (s *Service) AppendCallEvent(ctx context.Context, channelID string, data []byte, ttl time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("bus not configured")
	}

	key := CallStreamKey(channelID)
	res, err := s.cb.Execute(func() (interface{}, error) {
		id, err := s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			Values: map[string]interface{}{"data": data},
		}).Result()
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
				return nil, err
			}
		} else {
			if err := s.client.Persist(ctx, key).Err(); err != nil {
				return nil, err
			}
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// ReadCallEvents replays the full call stream for a channel in order.
func (s *Service) ReadCallEvents(ctx context.Context, channelID string) ([][]byte, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	key := CallStreamKey(channelID)
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.XRange(ctx, key, "-", "+").Result()
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, nil
		}
		return nil, err
	}
	msgs := res.([]redis.XMessage)
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		if raw, ok := m.Values["data"].(string); ok {
			out = append(out, []byte(raw))
		}
	}
	return out, nil
}

// Ping checks Redis connectivity.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

