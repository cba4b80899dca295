// Package batch accumulates parsed lines and flushes them to the Order
// Store on a size or time trigger. The snapshot-and-clear discipline in
// Flush is the safety-critical ordering: the shared buffer is reset to
// empty before the old snapshot is processed, so a concurrent Append can
// never be lost or double-counted.
package batch

import (
	"log"
	"sync"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
	"github.com/qzavyer/hypernode-orderfeed/internal/parser"
)

// Applier receives a resolved batch of Orders. internal/store.Store
// satisfies this via ApplyBatch.
type Applier interface {
	ApplyBatch(orders []ordermodel.Order)
}

// Config tunes flush behavior.
type Config struct {
	BatchSize       int           // flush once the buffer reaches this many lines
	BatchTimeout    time.Duration // flush at least this often regardless of size
	MaxFlushSize    int           // cap on lines processed per flush; remainder stays buffered
	ParallelThreshold int         // parse in parallel once a flush batch reaches this size
	Workers         int           // worker count for parallel parse
	TaskTimeout     time.Duration // per-parse-task timeout
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:         1000,
		BatchTimeout:      200 * time.Millisecond,
		MaxFlushSize:      100000,
		ParallelThreshold: 500,
		Workers:           4,
		TaskTimeout:       5 * time.Second,
	}
}

// Processor buffers raw lines, parses them, and forwards resolved Orders
// to an Applier in bounded flushes.
type Processor struct {
	cfg    Config
	parser *parser.Parser
	apply  Applier

	mu     sync.Mutex
	buffer [][]byte

	flushSignal chan struct{}
	ctx         chan struct{}
	done        chan struct{}
	once        sync.Once
}

// New creates a Processor.
func New(cfg Config, p *parser.Parser, apply Applier) *Processor {
	return &Processor{
		cfg:         cfg,
		parser:      p,
		apply:       apply,
		flushSignal: make(chan struct{}, 1),
		ctx:         make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Append adds a raw line to the buffer, signaling an immediate flush once
// the size trigger is reached.
func (p *Processor) Append(line []byte) {
	p.mu.Lock()
	p.buffer = append(p.buffer, line)
	trigger := len(p.buffer) >= p.cfg.BatchSize
	p.mu.Unlock()

	if trigger {
		select {
		case p.flushSignal <- struct{}{}:
		default:
		}
	}
}

// Start runs the flush loop until Stop is called.
func (p *Processor) Start() {
	go p.loop()
}

// Stop halts the loop after one final flush.
func (p *Processor) Stop() {
	p.once.Do(func() { close(p.ctx) })
	<-p.done
}

func (p *Processor) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx:
			p.Flush()
			return
		case <-ticker.C:
			p.Flush()
		case <-p.flushSignal:
			p.Flush()
		}
	}
}

// Flush snapshots and clears the buffer, then parses and applies it. The
// reset to empty happens before any processing of the snapshot so
// concurrent Appends land in the fresh buffer, never the one being
// processed.
func (p *Processor) Flush() {
	p.mu.Lock()
	snapshot := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	if len(snapshot) > p.cfg.MaxFlushSize {
		remainder := snapshot[p.cfg.MaxFlushSize:]
		snapshot = snapshot[:p.cfg.MaxFlushSize]
		p.mu.Lock()
		p.buffer = append(remainder, p.buffer...)
		p.mu.Unlock()
	}

	orders := p.parseLines(snapshot)
	p.apply.ApplyBatch(orders)
}

func (p *Processor) parseLines(lines [][]byte) []ordermodel.Order {
	if len(lines) < p.cfg.ParallelThreshold || p.cfg.Workers <= 1 {
		return p.parseSequential(lines)
	}
	return p.parseParallel(lines)
}

func (p *Processor) parseSequential(lines [][]byte) []ordermodel.Order {
	orders := make([]ordermodel.Order, 0, len(lines))
	for _, line := range lines {
		order, outcome, warn := p.parser.Parse(line)
		if warn {
			log.Printf("batch: parser warning for line: %s", line)
		}
		if outcome == parser.OutcomeAccepted {
			orders = append(orders, order)
		}
	}
	return orders
}

// parseParallel splits the snapshot into exactly Workers chunks (never a
// remainder-sized extra chunk) and dispatches each to a worker goroutine,
// gathering results back in index order. A timed-out chunk contributes no
// orders rather than blocking the whole flush.
func (p *Processor) parseParallel(lines [][]byte) []ordermodel.Order {
	n := p.cfg.Workers
	chunks := splitIntoN(lines, n)
	results := make([][]ordermodel.Order, n)

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		go func(i int, chunk [][]byte) {
			defer wg.Done()
			done := make(chan []ordermodel.Order, 1)
			go func() { done <- p.parseSequential(chunk) }()
			select {
			case r := <-done:
				results[i] = r
			case <-time.After(p.cfg.TaskTimeout):
				log.Printf("batch: parse task %d timed out, dropping %d lines", i, len(chunk))
				results[i] = nil
			}
		}(i, chunk)
	}
	wg.Wait()

	var orders []ordermodel.Order
	for _, r := range results {
		orders = append(orders, r...)
	}
	return orders
}

// splitIntoN divides lines into exactly n chunks, some possibly empty,
// rather than len(lines)/n remainder-sized chunks.
func splitIntoN(lines [][]byte, n int) [][][]byte {
	chunks := make([][][]byte, n)
	if len(lines) == 0 {
		return chunks
	}
	base := len(lines) / n
	extra := len(lines) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		chunks[i] = lines[start : start+size]
		start += size
	}
	return chunks
}
