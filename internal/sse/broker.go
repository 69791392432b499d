// Package sse fans session events out to connected members. With Redis the
// events cross replicas over pub/sub; without it they stay in process.
package sse

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/swiparr/swiparr-server/internal/metrics"
	"github.com/swiparr/swiparr-server/internal/model"
	redisclient "github.com/swiparr/swiparr-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 100
)

type Event struct {
	Type model.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an event payload.
func NewEvent(eventType model.EventType, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	SessionCode string
	UserID      string
	Events      chan Event
	Done        chan struct{}
}

// Publisher is what services need to announce session changes.
type Publisher interface {
	Publish(ctx context.Context, sessionCode string, event Event) error
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // sessionCode -> set of clients
	pubsubs map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBroker returns a broker; a nil redis client keeps delivery in process.
func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		pubsubs: make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(sessionCode, userID string) *Client {
	client := &Client{
		SessionCode: sessionCode,
		UserID:      userID,
		Events:      make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[sessionCode] == nil {
		b.clients[sessionCode] = make(map[*Client]bool)
		if b.redis != nil {
			subCtx, cancel := context.WithCancel(b.ctx)
			b.pubsubs[sessionCode] = cancel
			go b.subscribeToRedis(subCtx, sessionCode)
		}
	}
	b.clients[sessionCode][client] = true
	clientCount := len(b.clients[sessionCode])
	b.mu.Unlock()

	metrics.SSESubscribers.Inc()
	log.Info().
		Str("sessionCode", sessionCode).
		Str("userId", userID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[client.SessionCode]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Done)
	metrics.SSESubscribers.Dec()

	if len(clients) == 0 {
		delete(b.clients, client.SessionCode)
		if cancel, ok := b.pubsubs[client.SessionCode]; ok {
			cancel()
			delete(b.pubsubs, client.SessionCode)
		}
	}

	log.Info().
		Str("sessionCode", client.SessionCode).
		Int("clientCount", len(clients)).
		Msg("sse client unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, sessionCode string, event Event) error {
	if b.redis == nil {
		b.broadcast(sessionCode, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.SessionChannel(sessionCode), data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, sessionCode string) {
	channel := redisclient.SessionChannel(sessionCode)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("sessionCode", sessionCode).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(sessionCode, event)
		}
	}
}

func (b *Broker) broadcast(sessionCode string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[sessionCode] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("sessionCode", sessionCode).
				Str("userId", client.UserID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
			metrics.SSESubscribers.Dec()
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.pubsubs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(sessionCode string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[sessionCode])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
