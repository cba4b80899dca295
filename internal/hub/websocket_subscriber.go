package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// writeTimeout bounds every individual WebSocket write.
const writeTimeout = 5 * time.Second

// WebSocketSubscriber delivers Hub updates over a nhooyr.io/websocket
// connection. Writes go through a buffered send channel drained by a single
// writer goroutine, so only one goroutine ever writes to the connection; a
// full channel means a slow consumer: the send returns SendFailed rather
// than blocking, and the Hub then drops this subscriber.
type WebSocketSubscriber struct {
	conn   *websocket.Conn
	send   chan outMsg
	ctx    context.Context
	cancel context.CancelFunc
}

type outMsg struct {
	Instant *ordermodel.Order `json:"instant,omitempty"`
	Batch   *BatchEnvelope    `json:"batch,omitempty"`
}

type batchWire struct {
	Count  int                 `json:"count"`
	Orders []ordermodel.Order  `json:"orders"`
}

// NewWebSocketSubscriber wraps an accepted connection and starts its write
// pump. Callers must call Close when done.
func NewWebSocketSubscriber(conn *websocket.Conn) *WebSocketSubscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WebSocketSubscriber{
		conn:   conn,
		send:   make(chan outMsg, 256),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.writePump()
	return s
}

func (s *WebSocketSubscriber) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, s.conn, s.encode(msg))
			cancel()
			if err != nil {
				log.Printf("hub: websocket write failed: %v", err)
				return
			}
		}
	}
}

func (s *WebSocketSubscriber) encode(msg outMsg) json.RawMessage {
	if msg.Instant != nil {
		b, _ := json.Marshal(msg.Instant)
		return b
	}
	wire := batchWire{Count: msg.Batch.Count, Orders: msg.Batch.Orders}
	b, _ := json.Marshal(wire)
	return b
}

// SendInstant implements Subscriber.
func (s *WebSocketSubscriber) SendInstant(order ordermodel.Order) SendOutcome {
	select {
	case s.send <- outMsg{Instant: &order}:
		return SendOK
	default:
		return SendFailed
	}
}

// SendBatch implements Subscriber.
func (s *WebSocketSubscriber) SendBatch(orders []ordermodel.Order) SendOutcome {
	envelope := &BatchEnvelope{Count: len(orders), Orders: orders}
	select {
	case s.send <- outMsg{Batch: envelope}:
		return SendOK
	default:
		return SendFailed
	}
}

// Close implements Subscriber.
func (s *WebSocketSubscriber) Close() {
	s.cancel()
	_ = s.conn.Close(websocket.StatusNormalClosure, "hub closed")
}
