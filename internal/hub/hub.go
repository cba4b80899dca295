// Package hub fans admitted order updates out to subscribers over two
// channels: an instant channel delivering every update immediately, and a
// batched channel coalescing updates into periodic envelopes.
package hub

import (
	"log"
	"sync"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// SendOutcome reports what happened when a subscriber was sent to.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendFailed
)

// Subscriber is anything the Hub can push updates to. nhooyr.io/websocket
// connections are the concrete transport (see WebSocketSubscriber); tests
// use hand-written fakes satisfying the same shape.
type Subscriber interface {
	SendInstant(order ordermodel.Order) SendOutcome
	SendBatch(orders []ordermodel.Order) SendOutcome
	Close()
}

// BatchEnvelope is the coalesced batched-channel payload.
type BatchEnvelope struct {
	Count  int
	Orders []ordermodel.Order
}

// Hub owns the subscriber set and the batching ticker. Subscriber
// mutation and broadcast both hold the same mutex; broadcasts snapshot the
// subscriber set before iterating so a concurrent subscribe/unsubscribe
// never corrupts an in-flight fan-out.
type Hub struct {
	mu          sync.Mutex
	subs        map[int]Subscriber
	nextID      int
	batchPeriod time.Duration
	pending     []ordermodel.Order

	ctx    chan struct{}
	closed chan struct{}
	once   sync.Once
}

// New creates a Hub. Call Start to begin the batching ticker.
func New(batchPeriod time.Duration) *Hub {
	if batchPeriod <= 0 {
		batchPeriod = 500 * time.Millisecond
	}
	return &Hub{
		subs:        make(map[int]Subscriber),
		batchPeriod: batchPeriod,
		ctx:         make(chan struct{}),
		closed:      make(chan struct{}),
	}
}

// Start begins the periodic batched-channel flush loop.
func (h *Hub) Start() {
	go h.batchLoop()
}

// Stop cancels the batching loop, flushes any pending batch, and closes
// every subscriber.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.ctx) })
	<-h.closed

	h.mu.Lock()
	subs := h.snapshotLocked()
	h.subs = make(map[int]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Subscribe registers a subscriber and returns an ID for later Unsubscribe.
func (h *Hub) Subscribe(s Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	return id
}

// Unsubscribe removes a subscriber. It does not close it — callers that
// want the connection closed call Subscriber.Close themselves.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) snapshotLocked() map[int]Subscriber {
	snapshot := make(map[int]Subscriber, len(h.subs))
	for id, s := range h.subs {
		snapshot[id] = s
	}
	return snapshot
}

// Publish delivers an update to the instant channel immediately and queues
// it for the next batched flush. Call this only for updates that actually
// changed state — the Hub does not de-duplicate no-op notifications.
func (h *Hub) Publish(order ordermodel.Order) {
	h.mu.Lock()
	snapshot := h.snapshotLocked()
	h.pending = append(h.pending, order)
	h.mu.Unlock()

	h.broadcastInstant(snapshot, order)
}

func (h *Hub) broadcastInstant(snapshot map[int]Subscriber, order ordermodel.Order) {
	for id, s := range snapshot {
		if s.SendInstant(order) == SendFailed {
			h.dropSubscriber(id)
		}
	}
}

func (h *Hub) dropSubscriber(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		log.Printf("hub: dropping slow or disconnected subscriber %d", id)
		delete(h.subs, id)
	}
}

func (h *Hub) batchLoop() {
	defer close(h.closed)
	ticker := time.NewTicker(h.batchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx:
			h.flushBatch()
			return
		case <-ticker.C:
			h.flushBatch()
		}
	}
}

func (h *Hub) flushBatch() {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		return
	}
	batch := h.pending
	h.pending = nil
	snapshot := h.snapshotLocked()
	h.mu.Unlock()

	for id, s := range snapshot {
		if s.SendBatch(batch) == SendFailed {
			h.dropSubscriber(id)
		}
	}
}
