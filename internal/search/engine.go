// Package search implements the Reactive Search Engine: a bounded
// backward scan of the active log file looking for a specific order,
// followed by background tracking of any open match until it reaches a
// terminal status.
package search

import (
	"io"
	"log"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qzavyer/hypernode-orderfeed/internal/filter"
	"github.com/qzavyer/hypernode-orderfeed/internal/hub"
	"github.com/qzavyer/hypernode-orderfeed/internal/locator"
	"github.com/qzavyer/hypernode-orderfeed/internal/metrics"
	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
	"github.com/qzavyer/hypernode-orderfeed/internal/parser"
)

// backwardChunkSize is the read unit used while scanning from the end of
// the file toward its start.
const backwardChunkSize = 8 * 1024

// Config tunes the engine's scan and tracking bounds.
type Config struct {
	LookbackWindow  time.Duration // stop scanning once events are older than T_req - this
	MaxScanLines    int           // stop scanning after this many lines regardless
	CacheTTL        time.Duration // short-lived scan result cache window
	MaxTrackingAge  time.Duration // evict tracked orders older than this
	MonitorInterval time.Duration // cadence of the background tracking loop
	SweepInterval   time.Duration // cadence of the stale-tracking eviction sweep
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		LookbackWindow:  2 * time.Second,
		MaxScanLines:    10000,
		CacheTTL:        10 * time.Second,
		MaxTrackingAge:  60 * time.Minute,
		MonitorInterval: 50 * time.Millisecond,
		SweepInterval:   time.Minute,
	}
}

// Engine implements the reactive search. It never mutates the Order
// Store — it only emits notifications onto the Hub, which may duplicate
// notifications the live ingestion path already produced.
type Engine struct {
	cfg    Config
	loc    *locator.Locator
	filter *filter.Filter
	hub    *hub.Hub
	parser *parser.Parser

	cache   *lru.Cache[cacheKey, cacheEntry]
	metrics *metrics.Registry

	mu      sync.Mutex
	tracked map[string]ordermodel.TrackedOrder

	ctx    chan struct{}
	done   chan struct{}
	once   sync.Once
}

type cacheKey struct {
	ticker string
	side   ordermodel.Side
	price  float64
}

type cacheEntry struct {
	result    ordermodel.Order
	found     bool
	timestamp time.Time
}

// New creates an Engine.
func New(cfg Config, loc *locator.Locator, f *filter.Filter, h *hub.Hub, p *parser.Parser) *Engine {
	e := &Engine{
		cfg:     cfg,
		loc:     loc,
		filter:  f,
		hub:     h,
		parser:  p,
		tracked: make(map[string]ordermodel.TrackedOrder),
		ctx:     make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c, err := lru.New[cacheKey, cacheEntry](256); err == nil {
		e.cache = c
	}
	return e
}

// SetMetrics installs the counters Search and the tracking loop report
// cache hit/miss and tracked-order-count to.
func (e *Engine) SetMetrics(m *metrics.Registry) {
	e.metrics = m
}

// Start runs the background monitoring loop and the stale-tracking sweep.
func (e *Engine) Start() {
	go e.monitorLoop()
}

// Stop halts the background loop.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.ctx) })
	<-e.done
}

// Search runs a bounded backward scan for req and, if it finds an open
// match, begins tracking it for a terminal-status transition.
func (e *Engine) Search(req ordermodel.SearchRequest) (ordermodel.Order, bool) {
	if req.Tolerance == 0 {
		req.Tolerance = 1e-6
	}

	if e.cache != nil {
		key := cacheKey{ticker: req.Ticker, side: req.Side, price: req.Price}
		if entry, ok := e.cache.Get(key); ok {
			if time.Since(entry.timestamp) <= e.cfg.CacheTTL {
				if e.metrics != nil {
					e.metrics.CacheHits.Inc()
				}
				return entry.result, entry.found
			}
			e.cache.Remove(key)
		}
		if e.metrics != nil {
			e.metrics.CacheMisses.Inc()
		}
	}

	result, alreadyClosed, found := e.scanAndMatch(req)

	if e.cache != nil {
		key := cacheKey{ticker: req.Ticker, side: req.Side, price: req.Price}
		e.cache.Add(key, cacheEntry{result: result, found: found, timestamp: time.Now()})
	}

	if found && result.Status == ordermodel.Open && !alreadyClosed {
		e.track(result)
	}
	return result, found
}

func (e *Engine) scanAndMatch(req ordermodel.SearchRequest) (ordermodel.Order, bool, bool) {
	path, ok := e.loc.Active()
	if !ok {
		return ordermodel.Order{}, false, false
	}

	lines, err := scanBackward(path, e.cfg.MaxScanLines)
	if err != nil {
		log.Printf("search: backward scan of %s: %v", path, err)
		return ordermodel.Order{}, false, false
	}

	cutoff := req.Timestamp.Add(-e.cfg.LookbackWindow)

	type candidate struct {
		order      ordermodel.Order
		laterClose *ordermodel.Order
	}
	byID := make(map[string]*candidate)
	var orderIDs []string

	for i := len(lines) - 1; i >= 0; i-- {
		order, outcome, _ := e.parser.Parse(lines[i])
		if outcome != parser.OutcomeAccepted {
			continue
		}
		if order.Timestamp.Before(cutoff) {
			continue
		}
		if order.Symbol != req.Ticker || order.Side != req.Side {
			continue
		}
		if absFloat(order.Price-req.Price) > req.Tolerance {
			continue
		}
		if e.filter != nil && !e.filter.Admit(order.Symbol, order.Price, order.Size) {
			continue
		}

		c, seen := byID[order.ID]
		if !seen {
			c = &candidate{order: order}
			byID[order.ID] = c
			orderIDs = append(orderIDs, order.ID)
			continue
		}
		if order.Status.Terminal() && c.order.Status == ordermodel.Open {
			closed := order
			c.laterClose = &closed
		} else {
			c.order = order
		}
	}

	var bestOpen *ordermodel.Order
	var bestOpenLiquidity float64
	var bestClosed *candidate

	for _, id := range orderIDs {
		c := byID[id]
		if c.laterClose != nil {
			if bestClosed == nil || c.order.Liquidity() > bestClosed.order.Liquidity() {
				bestClosed = c
			}
			continue
		}
		if c.order.Status == ordermodel.Open {
			if bestOpen == nil || c.order.Liquidity() > bestOpenLiquidity {
				o := c.order
				bestOpen = &o
				bestOpenLiquidity = c.order.Liquidity()
			}
		}
	}

	if bestOpen != nil {
		e.hub.Publish(*bestOpen)
		return *bestOpen, false, true
	}
	if bestClosed != nil {
		// The match itself is the pre-transition open order; its closing
		// event gets its own notification alongside it.
		e.hub.Publish(bestClosed.order)
		e.hub.Publish(*bestClosed.laterClose)
		return bestClosed.order, true, true
	}
	return ordermodel.Order{}, false, false
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (e *Engine) track(order ordermodel.Order) {
	e.mu.Lock()
	e.tracked[order.ID] = ordermodel.TrackedOrder{Order: order, TrackedAt: time.Now()}
	count := len(e.tracked)
	e.mu.Unlock()
	e.setTrackedGauge(count)
}

func (e *Engine) setTrackedGauge(count int) {
	if e.metrics != nil {
		e.metrics.TrackedOrders.Set(float64(count))
	}
}

func (e *Engine) monitorLoop() {
	defer close(e.done)
	monitorTicker := time.NewTicker(e.cfg.MonitorInterval)
	defer monitorTicker.Stop()
	sweepTicker := time.NewTicker(e.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-e.ctx:
			return
		case <-monitorTicker.C:
			e.checkTracked()
		case <-sweepTicker.C:
			e.sweepStale()
		}
	}
}

func (e *Engine) checkTracked() {
	e.mu.Lock()
	if len(e.tracked) == 0 {
		e.mu.Unlock()
		return
	}
	ids := make(map[string]struct{}, len(e.tracked))
	for id := range e.tracked {
		ids[id] = struct{}{}
	}
	e.mu.Unlock()

	path, ok := e.loc.Active()
	if !ok {
		return
	}
	lines, err := scanBackward(path, e.cfg.MaxScanLines)
	if err != nil {
		return
	}

	var terminal []ordermodel.Order
	for i := len(lines) - 1; i >= 0; i-- {
		order, outcome, _ := e.parser.Parse(lines[i])
		if outcome != parser.OutcomeAccepted {
			continue
		}
		if _, tracked := ids[order.ID]; !tracked {
			continue
		}
		if !order.Status.Terminal() {
			continue
		}
		terminal = append(terminal, order)
	}

	if len(terminal) == 0 {
		return
	}
	e.mu.Lock()
	for _, o := range terminal {
		delete(e.tracked, o.ID)
	}
	count := len(e.tracked)
	e.mu.Unlock()
	e.setTrackedGauge(count)

	for _, o := range terminal {
		e.hub.Publish(o)
	}
}

func (e *Engine) sweepStale() {
	cutoff := time.Now().Add(-e.cfg.MaxTrackingAge)
	e.mu.Lock()
	for id, t := range e.tracked {
		if t.TrackedAt.Before(cutoff) {
			delete(e.tracked, id)
		}
	}
	count := len(e.tracked)
	e.mu.Unlock()
	e.setTrackedGauge(count)
}

// TrackedCount returns the number of orders currently tracked.
func (e *Engine) TrackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

// scanBackward returns up to maxLines of the most recent complete lines in
// path, newest first, reading backward from the end of the file in
// fixed-size chunks and reassembling line boundaries across chunk edges.
func scanBackward(path string, maxLines int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pos := info.Size()
	var tail []byte
	var lines [][]byte
	// atEOF holds until the last newline in the file is found; bytes after
	// it are an unterminated fragment and are not returned.
	atEOF := true

	buf := make([]byte, backwardChunkSize)
	for pos > 0 && len(lines) < maxLines {
		readSize := int64(backwardChunkSize)
		if readSize > pos {
			readSize = pos
		}
		pos -= readSize

		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(f, buf[:readSize])
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}

		chunk := append(buf[:n:n], tail...)
		tail = nil

		start := len(chunk)
		for i := len(chunk) - 1; i >= 0; i-- {
			if chunk[i] == '\n' {
				if i+1 < start && !atEOF {
					line := chunk[i+1 : start]
					if len(line) > 0 {
						cp := make([]byte, len(line))
						copy(cp, line)
						lines = append(lines, cp)
						if len(lines) >= maxLines {
							break
						}
					}
				}
				atEOF = false
				start = i
			}
		}
		if start > 0 {
			tail = make([]byte, start)
			copy(tail, chunk[:start])
		} else {
			tail = nil
		}
	}

	if pos == 0 && len(tail) > 0 && len(lines) < maxLines && !atEOF {
		cp := make([]byte, len(tail))
		copy(cp, tail)
		lines = append(lines, cp)
	}

	return lines, nil
}
