// Package bus implements the cross-instance event bus on Redis pub/sub. Every
// instance subscribes to one reserved channel per namespace and receives every
// envelope, its own included; handlers decide relevance.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/chatsvc/chatsvc/internal/v1/logging"
	"github.com/chatsvc/chatsvc/internal/v1/metrics"
	"github.com/chatsvc/chatsvc/internal/v1/types"
)

// ErrAckTimeout is returned by Request when no reply arrives in time.
var ErrAckTimeout = errors.New("bus: ack timeout")

// Channel returns the reserved pub/sub channel for a namespace.
func Channel(namespace string) string {
	return "chat:bus:" + namespace
}

type pendingCall struct {
	event string
	ch    chan types.BusEnvelope
}

// Redis is the Redis-backed Bus implementation.
type Redis struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instance   types.InstanceID
	channel    string
	ackTimeout time.Duration

	mu       sync.Mutex
	handlers map[string]types.BusHandler
	pending  map[string]pendingCall
	started  bool

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedis creates a robust Redis connection for the bus and verifies it with
// a ping.
func NewRedis(addr, password, namespace string, instance types.InstanceID, ackTimeout time.Duration) (*Redis, error) {
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

	b := NewRedisWithClient(rdb, namespace, instance, ackTimeout)
	logging.Info(context.Background(), "Connected to Redis bus",
		zap.String("addr", addr), zap.String("channel", b.channel))
	return b, nil
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client, namespace string, instance types.InstanceID, ackTimeout time.Duration) *Redis {
	st := gobreaker.Settings{
		Name:        "redis-bus",
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
	return &Redis{
		client:     client,
		cb:         gobreaker.NewCircuitBreaker(st),
		instance:   instance,
		channel:    Channel(namespace),
		ackTimeout: ackTimeout,
		handlers:   make(map[string]types.BusHandler),
		pending:    make(map[string]pendingCall),
	}
}

// Client returns the underlying Redis client.
func (b *Redis) Client() *redis.Client {
	if b == nil {
		return nil
	}
	return b.client
}

// Handle registers the handler for a named event. Must be called before Start.
func (b *Redis) Handle(event string, handler types.BusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		panic("bus: Handle called after Start")
	}
	b.handlers[event] = handler
}

func (b *Redis) publishEnvelope(ctx context.Context, env types.BusEnvelope) error {
	if b == nil || b.client == nil {
		return nil // Single-instance mode, no Redis available
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bus envelope: %w", err)
		}
		return nil, b.client.Publish(ctx, b.channel, data).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: dropping bus publish",
				zap.String("event", env.Event))
			return err
		}
		logging.Error(ctx, "Bus publish failed",
			zap.String("event", env.Event), zap.Error(err))
		return err
	}

	metrics.BusEnvelopes.WithLabelValues(env.Event, "published").Inc()
	return nil
}

// Publish fans an event out to every instance, the publisher included.
func (b *Redis) Publish(ctx context.Context, event string, args ...any) error {
	return b.publishEnvelope(ctx, types.BusEnvelope{
		Event:    event,
		Instance: b.instance,
		Args:     args,
	})
}

// Request publishes an event with a fresh correlation id and blocks until a
// reply envelope carrying that id arrives, or the ack timeout elapses.
func (b *Redis) Request(ctx context.Context, event string, args ...any) error {
	corr := uuid.NewString()
	call := pendingCall{event: event, ch: make(chan types.BusEnvelope, 1)}

	b.mu.Lock()
	b.pending[corr] = call
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, corr)
		b.mu.Unlock()
	}()

	err := b.publishEnvelope(ctx, types.BusEnvelope{
		Event:       event,
		Instance:    b.instance,
		Correlation: corr,
		Args:        args,
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()
	select {
	case <-call.ch:
		return nil
	case <-timer.C:
		logging.Warn(ctx, "Bus request timed out",
			zap.String("event", event), zap.String("correlation", corr))
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reply answers a request under the given reply event name.
func (b *Redis) Reply(ctx context.Context, event, correlation string, args ...any) error {
	return b.publishEnvelope(ctx, types.BusEnvelope{
		Event:       event,
		Instance:    b.instance,
		Correlation: correlation,
		Args:        args,
	})
}

// Start subscribes to the reserved channel and consumes envelopes until the
// context is cancelled or Close is called.
func (b *Redis) Start(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}

	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bus: already started")
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.pubsub = b.client.Subscribe(ctx, b.channel)
	b.mu.Unlock()

	// Force the SUBSCRIBE round-trip so envelopes published right after
	// Start returns are not lost.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to bus channel: %w", err)
	}

	logging.Info(ctx, "Subscribed to bus channel", zap.String("channel", b.channel))

	ch := b.pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "Bus subscription channel closed",
						zap.String("channel", b.channel))
					return
				}
				var env types.BusEnvelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					logging.Error(ctx, "Failed to unmarshal bus envelope",
						zap.Error(err), zap.String("raw", msg.Payload))
					continue
				}
				b.route(ctx, env)
			}
		}
	}()
	return nil
}

// route delivers one received envelope: reply envelopes resolve their pending
// request, everything else goes to the registered handler. Requests carry the
// same correlation as their reply, so the request event name disambiguates.
func (b *Redis) route(ctx context.Context, env types.BusEnvelope) {
	metrics.BusEnvelopes.WithLabelValues(env.Event, "received").Inc()

	if env.Correlation != "" {
		b.mu.Lock()
		call, ok := b.pending[env.Correlation]
		if ok && call.event != env.Event {
			delete(b.pending, env.Correlation)
			b.mu.Unlock()
			select {
			case call.ch <- env:
			default:
			}
			return
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	handler, ok := b.handlers[env.Event]
	b.mu.Unlock()
	if !ok {
		// Unknown events are ignored; other instances may speak a newer
		// protocol revision.
		return
	}
	handler(ctx, env)
}

// Ping checks Redis connectivity; used by health checks.
func (b *Redis) Ping(ctx context.Context) error {
	if b == nil || b.client == nil {
		return nil
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Ping(ctx).Err()
	})
	if err != nil && err == gobreaker.ErrOpenState {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return err
}

// Close stops the consumer and closes the connection.
func (b *Redis) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	b.mu.Lock()
	cancel := b.cancel
	pubsub := b.pubsub
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if pubsub != nil {
		_ = pubsub.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}
