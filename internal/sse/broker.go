package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meetai/meeting-server-go/internal/metrics"
	redisclient "github.com/meetai/meeting-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 32
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event of the given type.
func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	MeetingID string
	Events    chan Event
	Done      chan struct{}
}

// Broker relays meeting events published on Redis to local stream clients.
// One Redis subscription is held per meeting with at least one client.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // meetingID -> set of clients
	subs    map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(meetingID string) *Client {
	client := b.register(meetingID)
	if client.subCtx != nil {
		go b.subscribeToRedis(client.subCtx, meetingID)
	}
	return client.Client
}

// registration carries subCtx only for the first client of a meeting.
type registration struct {
	*Client
	subCtx context.Context
}

func (b *Broker) register(meetingID string) registration {
	client := &Client{
		MeetingID: meetingID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	var subCtx context.Context
	b.mu.Lock()
	if b.clients[meetingID] == nil {
		b.clients[meetingID] = make(map[*Client]bool)
		var cancel context.CancelFunc
		subCtx, cancel = context.WithCancel(b.ctx)
		b.subs[meetingID] = cancel
	}
	b.clients[meetingID][client] = true
	clientCount := len(b.clients[meetingID])
	b.mu.Unlock()

	metrics.SSEClients.Inc()
	log.Info().
		Str("meetingId", meetingID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return registration{Client: client, subCtx: subCtx}
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.MeetingID]; ok {
		if _, ok := clients[client]; !ok {
			return
		}
		delete(clients, client)
		close(client.Done)
		metrics.SSEClients.Dec()

		if len(clients) == 0 {
			delete(b.clients, client.MeetingID)
			if cancel, ok := b.subs[client.MeetingID]; ok {
				cancel()
				delete(b.subs, client.MeetingID)
			}
		}

		log.Info().
			Str("meetingId", client.MeetingID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

// Publish sends event to every replica's subscribers of meetingID.
func (b *Broker) Publish(ctx context.Context, meetingID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.MeetingChannel(meetingID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, meetingID string) {
	channel := redisclient.MeetingChannel(meetingID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("meetingId", meetingID).
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

			b.broadcast(meetingID, event)
		}
	}
}

func (b *Broker) broadcast(meetingID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[meetingID] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("meetingId", meetingID).
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
			metrics.SSEClients.Dec()
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(meetingID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[meetingID])
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
