package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel invalidation messages travel on.
const DefaultChannel = "routeflow:invalidate"

// Kind selects what an invalidation message drops.
type Kind string

const (
	KindRoute       Kind = "route"
	KindRoutes      Kind = "routes"
	KindIntegration Kind = "integration"
	KindAll         Kind = "all"
)

// Message is one invalidation notice.
type Message struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// IntegrationResetter drops pooled integration connections.
// Satisfied by integrations.Resolver.
type IntegrationResetter interface {
	Reset(id string)
	ResetAll()
}

// Subscriber applies invalidation messages from a Redis channel to the
// graph cache, the integration pools and the route table.
type Subscriber struct {
	client   *redis.Client
	channel  string
	graphs   *GraphCache
	resetter IntegrationResetter
	onRoutes func(ctx context.Context) error
	logger   *slog.Logger
}

// SubscriberOption configures a Subscriber.
type SubscriberOption func(*Subscriber)

// WithChannel overrides DefaultChannel.
func WithChannel(channel string) SubscriberOption {
	return func(s *Subscriber) {
		if channel != "" {
			s.channel = channel
		}
	}
}

// WithIntegrations resets integration pools on integration messages.
func WithIntegrations(r IntegrationResetter) SubscriberOption {
	return func(s *Subscriber) { s.resetter = r }
}

// WithRoutesChanged is called after the route set changed, e.g. to rebuild
// the router.
func WithRoutesChanged(fn func(ctx context.Context) error) SubscriberOption {
	return func(s *Subscriber) { s.onRoutes = fn }
}

// WithLogger sets the subscriber logger.
func WithLogger(l *slog.Logger) SubscriberOption {
	return func(s *Subscriber) { s.logger = l }
}

// NewSubscriber creates a Subscriber. Call Run to start consuming.
func NewSubscriber(client *redis.Client, graphs *GraphCache, opts ...SubscriberOption) (*Subscriber, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if graphs == nil {
		return nil, errors.New("graph cache is required")
	}
	s := &Subscriber{
		client:  client,
		channel: DefaultChannel,
		graphs:  graphs,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run subscribes and applies messages until ctx is done. It returns nil on
// cancellation and an error if the subscription cannot be established.
func (s *Subscriber) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	// Wait for the subscription confirmation so publishes after Run
	// starts are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("invalidation subscriber started", "channel", s.channel)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.logger.Warn("invalid invalidation message", "payload", m.Payload, "error", err)
				continue
			}
			if err := s.Apply(ctx, msg); err != nil {
				s.logger.Warn("invalidation failed", "kind", msg.Kind, "id", msg.ID, "error", err)
			}
		}
	}
}

// Apply performs one invalidation.
func (s *Subscriber) Apply(ctx context.Context, msg Message) error {
	s.logger.Debug("invalidation", "kind", msg.Kind, "id", msg.ID)
	switch msg.Kind {
	case KindRoute:
		if msg.ID == "" {
			return errors.New("route invalidation requires an id")
		}
		s.graphs.Invalidate(msg.ID)
	case KindRoutes:
		s.graphs.InvalidateAll()
		return s.routesChanged(ctx)
	case KindIntegration:
		if s.resetter == nil {
			return nil
		}
		if msg.ID == "" {
			s.resetter.ResetAll()
		} else {
			s.resetter.Reset(msg.ID)
		}
	case KindAll:
		s.graphs.InvalidateAll()
		if s.resetter != nil {
			s.resetter.ResetAll()
		}
		return s.routesChanged(ctx)
	default:
		return fmt.Errorf("unknown invalidation kind %q", msg.Kind)
	}
	return nil
}

func (s *Subscriber) routesChanged(ctx context.Context) error {
	if s.onRoutes == nil {
		return nil
	}
	return s.onRoutes(ctx)
}

// Publisher emits invalidation messages for other routeflow processes.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher creates a Publisher. An empty channel means DefaultChannel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish sends msg and returns the number of subscribers that received it.
func (p *Publisher) Publish(ctx context.Context, msg Message) (int64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	return p.client.Publish(ctx, p.channel, data).Result()
}

// Route invalidates one route graph.
func (p *Publisher) Route(ctx context.Context, id string) error {
	_, err := p.Publish(ctx, Message{Kind: KindRoute, ID: id})
	return err
}

// Routes invalidates the route table and every graph.
func (p *Publisher) Routes(ctx context.Context) error {
	_, err := p.Publish(ctx, Message{Kind: KindRoutes})
	return err
}

// Integration resets one integration pool, or all of them when id is empty.
func (p *Publisher) Integration(ctx context.Context, id string) error {
	_, err := p.Publish(ctx, Message{Kind: KindIntegration, ID: id})
	return err
}

// All drops everything.
func (p *Publisher) All(ctx context.Context) error {
	_, err := p.Publish(ctx, Message{Kind: KindAll})
	return err
}
