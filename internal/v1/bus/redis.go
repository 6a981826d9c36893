// Package bus mirrors room lifecycle events to Redis for external
// consumers: dashboards, audit pipelines, anything watching rooms come and
// go. The broker itself never reads these events back; a nil Service means
// single-instance mode and every call is a no-op. Correctness never
// depends on the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/atelierhq/atelier/internal/v1/logging"
	"github.com/atelierhq/atelier/internal/v1/metrics"
)

// EventPayload is the wire form of one lifecycle event.
type EventPayload struct {
	RoomID   string          `json:"roomId"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
}

// channelPrefix namespaces the broker's pub/sub channels.
const channelPrefix = "atelier:room:"

// Service wraps the Redis client behind a circuit breaker so a sick Redis
// degrades to dropped events instead of stalled rooms.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client exposes the underlying Redis client, mainly to tests.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService connects to Redis and verifies the connection with a ping.
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
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "event-bus",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			var state float64
			switch to {
			case gobreaker.StateClosed:
				state = 0
			case gobreaker.StateHalfOpen:
				state = 1
			case gobreaker.StateOpen:
				state = 2
			}
			metrics.BusBreakerState.Set(state)
		},
	}

	logging.Info(context.Background(), "event bus connected", zap.String("addr", addr))
	return &Service{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Publish emits one lifecycle event on the room's channel. An open
// breaker drops the event silently; rooms never fail because Redis did.
func (s *Service) Publish(ctx context.Context, roomID, event string, payload any, senderID string) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode.
	}

	_, err := s.cb.Execute(func() (any, error) {
		inner, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		msg := EventPayload{RoomID: roomID, Event: event, Payload: inner, SenderID: senderID}
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("marshal event envelope: %w", err)
		}
		return nil, s.client.Publish(ctx, channelPrefix+roomID, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			logging.Warn(ctx, "event bus breaker open, dropping event",
				zap.String("room_id", roomID), zap.String("event", event))
			return nil
		}
		logging.Error(ctx, "event bus publish failed",
			zap.String("room_id", roomID), zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// Ping verifies Redis connectivity; readiness checks call this.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode.
	}
	_, err := s.cb.Execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close shuts the Redis connection down.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil // Single-instance mode.
	}
	return s.client.Close()
}
