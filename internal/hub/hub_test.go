package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	instants []ordermodel.Order
	batches  [][]ordermodel.Order
	fail     bool
	closed   bool
}

func (f *fakeSubscriber) SendInstant(order ordermodel.Order) SendOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return SendFailed
	}
	f.instants = append(f.instants, order)
	return SendOK
}

func (f *fakeSubscriber) SendBatch(orders []ordermodel.Order) SendOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return SendFailed
	}
	f.batches = append(f.batches, orders)
	return SendOK
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) instantCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instants)
}

func TestPublishDeliversInstantImmediately(t *testing.T) {
	h := New(time.Hour)
	h.Start()
	defer h.Stop()

	sub := &fakeSubscriber{}
	h.Subscribe(sub)

	h.Publish(ordermodel.Order{ID: "1"})

	if sub.instantCount() != 1 {
		t.Fatalf("expected 1 instant delivery, got %d", sub.instantCount())
	}
}

func TestBatchedChannelCoalescesOnPeriod(t *testing.T) {
	h := New(20 * time.Millisecond)
	h.Start()
	defer h.Stop()

	sub := &fakeSubscriber{}
	h.Subscribe(sub)

	h.Publish(ordermodel.Order{ID: "1"})
	h.Publish(ordermodel.Order{ID: "2"})

	time.Sleep(100 * time.Millisecond)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.batches) == 0 {
		t.Fatal("expected at least one batch flush")
	}
	if len(sub.batches[0]) != 2 {
		t.Fatalf("expected 2 orders in the first batch, got %d", len(sub.batches[0]))
	}
}

func TestBatchedChannelDoesNotEmitWhenEmpty(t *testing.T) {
	h := New(20 * time.Millisecond)
	h.Start()
	defer h.Stop()

	sub := &fakeSubscriber{}
	h.Subscribe(sub)

	time.Sleep(100 * time.Millisecond)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.batches) != 0 {
		t.Fatalf("expected no batch emission when nothing was published, got %d", len(sub.batches))
	}
}

func TestFailingSubscriberIsDroppedWithoutAbortingOthers(t *testing.T) {
	h := New(time.Hour)
	h.Start()
	defer h.Stop()

	bad := &fakeSubscriber{fail: true}
	good := &fakeSubscriber{}
	h.Subscribe(bad)
	h.Subscribe(good)

	h.Publish(ordermodel.Order{ID: "1"})

	if good.instantCount() != 1 {
		t.Fatalf("expected the healthy subscriber to still receive updates, got %d", good.instantCount())
	}

	h.mu.Lock()
	remaining := len(h.subs)
	h.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected the failing subscriber to be dropped, %d subscribers remain", remaining)
	}
}

func TestStopClosesAllSubscribers(t *testing.T) {
	h := New(time.Hour)
	h.Start()

	sub := &fakeSubscriber{}
	h.Subscribe(sub)

	h.Stop()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		t.Fatal("expected subscriber to be closed on Stop")
	}
}
