// Package hub is a topic broker: connections subscribe to named topics and
// every frame published to a topic is written to each subscriber.
package hub

import (
	"context"
	"sync"

	"chatrelay/pkg/interfaces"

	"github.com/rs/zerolog"
)

type subscriptionOp int

const (
	opSubscribe subscriptionOp = iota
	opUnsubscribe
	opUnsubscribeAll
)

type subscription struct {
	op    subscriptionOp
	topic string
	conn  interfaces.Connection
}

type publication struct {
	topic string
	frame interface{}
}

// Hub owns all topic state in a single goroutine.
// ARCHITECTURAL DISCOVERY: subscription changes and publishes arrive on
// buffered channels, so callers never touch the topic maps.
type Hub struct {
	publishChannel      chan publication  // 1000 buffer absorbs presence bursts
	subscriptionChannel chan subscription // 100 buffer for connection lifecycle events
	statsChannel        chan chan map[string]int
	shutdownChannel     chan struct{}
	done                chan struct{}

	topics map[string]map[string]interfaces.Connection // topic -> connID -> conn
	byConn map[string]map[string]struct{}              // connID -> topics

	running bool
	mu      sync.RWMutex
	logger  zerolog.Logger
}

// NewHub creates a stopped hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		publishChannel:      make(chan publication, 1000),
		subscriptionChannel: make(chan subscription, 100),
		statsChannel:        make(chan chan map[string]int),
		topics:              make(map[string]map[string]interfaces.Connection),
		byConn:              make(map[string]map[string]struct{}),
		logger:              logger.With().Str("component", "hub").Logger(),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info().Msg("starting topic hub")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the hub down and waits for the run loop to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("topic hub stopped")
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Subscribe adds conn to topic.
func (h *Hub) Subscribe(topic string, conn interfaces.Connection) error {
	return h.enqueueSubscription(subscription{op: opSubscribe, topic: topic, conn: conn})
}

// Unsubscribe removes conn from topic.
func (h *Hub) Unsubscribe(topic string, conn interfaces.Connection) error {
	return h.enqueueSubscription(subscription{op: opUnsubscribe, topic: topic, conn: conn})
}

// UnsubscribeAll removes conn from every topic it joined.
func (h *Hub) UnsubscribeAll(conn interfaces.Connection) error {
	return h.enqueueSubscription(subscription{op: opUnsubscribeAll, conn: conn})
}

func (h *Hub) enqueueSubscription(s subscription) error {
	if s.conn == nil {
		return ErrNilConnection
	}
	if s.op != opUnsubscribeAll && s.topic == "" {
		return ErrEmptyTopic
	}
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.subscriptionChannel <- s:
		return nil
	default:
		return ErrSubscriptionChannelFull
	}
}

// Publish queues frame for every subscriber of topic.
func (h *Hub) Publish(topic string, frame interface{}) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.publishChannel <- publication{topic: topic, frame: frame}:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// Stats reports topic and subscription counts. It returns nil when the hub
// is not running.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return nil
	}
	done := h.done
	h.mu.RUnlock()

	reply := make(chan map[string]int, 1)
	select {
	case h.statsChannel <- reply:
		return <-reply
	case <-done:
		return nil
	}
}

// run is the main hub processing loop.
func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	for {
		select {
		case s := <-h.subscriptionChannel:
			h.handleSubscription(s)

		case p := <-h.publishChannel:
			// Subscription changes queued before this publish take effect first.
			h.drainSubscriptions()
			h.handlePublish(p)

		case reply := <-h.statsChannel:
			reply <- h.stats()

		case <-shutdown:
			h.logger.Debug().Msg("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Debug().Msg("hub context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) drainSubscriptions() {
	for {
		select {
		case s := <-h.subscriptionChannel:
			h.handleSubscription(s)
		default:
			return
		}
	}
}

func (h *Hub) handleSubscription(s subscription) {
	connID := s.conn.ID()
	switch s.op {
	case opSubscribe:
		subs, ok := h.topics[s.topic]
		if !ok {
			subs = make(map[string]interfaces.Connection)
			h.topics[s.topic] = subs
		}
		subs[connID] = s.conn
		if h.byConn[connID] == nil {
			h.byConn[connID] = make(map[string]struct{})
		}
		h.byConn[connID][s.topic] = struct{}{}

	case opUnsubscribe:
		h.removeLocked(s.topic, s.conn)

	case opUnsubscribeAll:
		for topic := range h.byConn[connID] {
			h.removeLocked(topic, s.conn)
		}
	}
}

// removeLocked drops conn from topic. Only the run goroutine calls it.
func (h *Hub) removeLocked(topic string, conn interfaces.Connection) {
	connID := conn.ID()
	if subs, ok := h.topics[topic]; ok {
		// A newer handle with the same id stays subscribed.
		if current, ok := subs[connID]; ok && current == conn {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	if topics, ok := h.byConn[connID]; ok {
		delete(topics, topic)
		if len(topics) == 0 {
			delete(h.byConn, connID)
		}
	}
}

func (h *Hub) handlePublish(p publication) {
	subs := h.topics[p.topic]
	failed := 0
	for _, conn := range subs {
		if err := conn.WriteJSON(p.frame); err != nil {
			failed++
			h.logger.Debug().Err(err).Str("topic", p.topic).Str("conn_id", conn.ID()).Msg("failed to write published frame")
		}
	}
	if failed > 0 {
		h.logger.Warn().Str("topic", p.topic).Int("subscribers", len(subs)).Int("failed", failed).Msg("publish partially failed")
	}
}

func (h *Hub) stats() map[string]int {
	subscriptions := 0
	for _, subs := range h.topics {
		subscriptions += len(subs)
	}
	return map[string]int{
		"topics":          len(h.topics),
		"subscriptions":   subscriptions,
		"pending_publish": len(h.publishChannel),
	}
}
