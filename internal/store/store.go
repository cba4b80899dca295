// Package store holds the in-memory order book: one current Order per
// order ID, admitted through the Symbol Filter and advanced through the
// documented status-transition lattice. The Hub is notified only on an
// actual state change.
package store

import (
	"sync"

	"github.com/qzavyer/hypernode-orderfeed/internal/filter"
	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// Notifier receives a notification for every order whose stored state
// actually changed. internal/hub.Hub satisfies this.
type Notifier interface {
	Publish(order ordermodel.Order)
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	orders map[string]ordermodel.Order
	filter *filter.Filter
	notify Notifier
}

// New creates a Store gated by filter and notifying notify on change.
func New(f *filter.Filter, notify Notifier) *Store {
	return &Store{
		orders: make(map[string]ordermodel.Order),
		filter: f,
		notify: notify,
	}
}

// Get returns the current stored state of an order, if any.
func (s *Store) Get(id string) (ordermodel.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Len returns the number of stored orders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Apply admits and applies a single event. Non-admitted events are dropped
// silently with no notification, per the Symbol Filter contract.
func (s *Store) Apply(event ordermodel.Order) {
	if s.filter != nil && !s.filter.Admit(event.Symbol, event.Price, event.Size) {
		return
	}
	s.mu.Lock()
	changed, result := s.applyLocked(event)
	s.mu.Unlock()

	if changed && s.notify != nil {
		s.notify.Publish(result)
	}
}

func (s *Store) applyLocked(event ordermodel.Order) (bool, ordermodel.Order) {
	current, existed := s.orders[event.ID]
	if !existed {
		current = ordermodel.Order{ID: event.ID, Status: ordermodel.StatusUnknown}
	}

	nextStatus, statusChanged := ordermodel.NextStatus(current.Status, event.Status)

	result := current
	if statusChanged || !existed {
		result = event
		result.Status = nextStatus
	}
	s.orders[event.ID] = result

	return statusChanged || !existed, result
}

// ApplyBatch resolves same-batch conflicts for every order ID present in
// events before applying a single resolved event per ID: canceled and
// filled in the same batch resolve to canceled; otherwise the
// canceled > filled > triggered > open priority applies; the
// last event for an ID in the batch supplies all non-status fields.
func (s *Store) ApplyBatch(events []ordermodel.Order) {
	resolved := resolveBatch(events)
	for _, event := range resolved {
		s.Apply(event)
	}
}

var statusPriority = map[ordermodel.Status]int{
	ordermodel.Canceled:  4,
	ordermodel.Filled:    3,
	ordermodel.Triggered: 2,
	ordermodel.Open:      1,
}

func resolveBatch(events []ordermodel.Order) []ordermodel.Order {
	byID := make(map[string][]ordermodel.Order)
	order := make([]string, 0, len(events))
	for _, e := range events {
		if _, ok := byID[e.ID]; !ok {
			order = append(order, e.ID)
		}
		byID[e.ID] = append(byID[e.ID], e)
	}

	resolved := make([]ordermodel.Order, 0, len(order))
	for _, id := range order {
		group := byID[id]
		resolved = append(resolved, resolveGroup(group))
	}
	return resolved
}

func resolveGroup(group []ordermodel.Order) ordermodel.Order {
	last := group[len(group)-1]

	hasFilled, hasCanceled := false, false
	bestStatus := ordermodel.StatusUnknown
	bestPriority := -1
	for _, e := range group {
		if e.Status == ordermodel.Filled {
			hasFilled = true
		}
		if e.Status == ordermodel.Canceled {
			hasCanceled = true
		}
		if p := statusPriority[e.Status]; p > bestPriority {
			bestPriority = p
			bestStatus = e.Status
		}
	}

	resolvedStatus := bestStatus
	if hasFilled && hasCanceled {
		resolvedStatus = ordermodel.Canceled
	}

	result := last
	result.Status = resolvedStatus
	return result
}

// EvictOlderThan removes every stored order for which cutoff returns true
// and reports how many it removed. It does not look at timestamps itself:
// the age test is whatever the caller's cutoff checks. This is a bulk
// administrative operation and never notifies subscribers.
func (s *Store) EvictOlderThan(cutoff func(ordermodel.Order) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, o := range s.orders {
		if cutoff(o) {
			delete(s.orders, id)
			removed++
		}
	}
	return removed
}
