package batch

import (
	"sync"
	"testing"
	"time"

	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
	"github.com/qzavyer/hypernode-orderfeed/internal/parser"
)

type captureApplier struct {
	mu     sync.Mutex
	batches [][]ordermodel.Order
}

func (c *captureApplier) ApplyBatch(orders []ordermodel.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, orders)
}

func (c *captureApplier) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func validLine(id string) []byte {
	return []byte(`{"time":"2026-07-31T10:00:00","user":"0xabc","status":"open","order":{"oid":"` + id + `","coin":"BTC","side":"B","limitPx":"1","origSz":"1"}}`)
}

func TestFlushOnSizeTrigger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.BatchTimeout = time.Hour
	app := &captureApplier{}
	p := New(cfg, parser.New(0), app)
	p.Start()
	defer p.Stop()

	p.Append(validLine("1"))
	p.Append(validLine("2"))
	p.Append(validLine("3"))

	deadline := time.Now().Add(2 * time.Second)
	for app.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if app.total() != 3 {
		t.Fatalf("expected 3 orders flushed, got %d", app.total())
	}
}

func TestFlushSnapshotAndClearDoesNotLoseAppendsBetweenFlushes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1000000
	cfg.BatchTimeout = time.Hour
	app := &captureApplier{}
	p := New(cfg, parser.New(0), app)

	for i := 0; i < 50; i++ {
		p.Append(validLine("x"))
	}
	p.Flush()
	for i := 0; i < 25; i++ {
		p.Append(validLine("y"))
	}
	p.Flush()

	if app.total() != 75 {
		t.Fatalf("expected all 75 lines to be accounted for, got %d", app.total())
	}
}

func TestMaxFlushSizeCapsAndRetainsRemainder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFlushSize = 10
	cfg.BatchSize = 1000000
	cfg.BatchTimeout = time.Hour
	app := &captureApplier{}
	p := New(cfg, parser.New(0), app)

	for i := 0; i < 25; i++ {
		p.Append(validLine("z"))
	}
	p.Flush()

	if app.total() != 10 {
		t.Fatalf("expected exactly 10 orders in the capped flush, got %d", app.total())
	}

	p.Flush()
	if app.total() != 25 {
		t.Fatalf("expected the remainder to flush on the next call, got %d", app.total())
	}
}

func TestSplitIntoNProducesExactlyNChunks(t *testing.T) {
	lines := make([][]byte, 10)
	for i := range lines {
		lines[i] = []byte("x")
	}
	chunks := splitIntoN(lines, 4)
	if len(chunks) != 4 {
		t.Fatalf("expected exactly 4 chunks, got %d", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total != 10 {
		t.Fatalf("expected all lines accounted for, got %d", total)
	}
}

func TestParallelParseMatchesSequentialResultCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParallelThreshold = 5
	cfg.Workers = 3
	cfg.BatchSize = 1000000
	cfg.BatchTimeout = time.Hour
	app := &captureApplier{}
	p := New(cfg, parser.New(0), app)

	for i := 0; i < 20; i++ {
		p.Append(validLine("p"))
	}
	p.Flush()

	if app.total() != 20 {
		t.Fatalf("expected 20 orders via the parallel path, got %d", app.total())
	}
}
