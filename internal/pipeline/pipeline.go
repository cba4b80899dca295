// Package pipeline wires the Locator, Tailer, Parser, Batch Processor,
// Order Store, Symbol Filter, Subscriber Hub, and Reactive Search Engine
// into a single running service.
package pipeline

import (
	"context"
	"log"

	"github.com/qzavyer/hypernode-orderfeed/internal/batch"
	"github.com/qzavyer/hypernode-orderfeed/internal/config"
	"github.com/qzavyer/hypernode-orderfeed/internal/filter"
	"github.com/qzavyer/hypernode-orderfeed/internal/hub"
	"github.com/qzavyer/hypernode-orderfeed/internal/locator"
	"github.com/qzavyer/hypernode-orderfeed/internal/metrics"
	"github.com/qzavyer/hypernode-orderfeed/internal/parser"
	"github.com/qzavyer/hypernode-orderfeed/internal/search"
	"github.com/qzavyer/hypernode-orderfeed/internal/store"
	"github.com/qzavyer/hypernode-orderfeed/internal/tailer"
)

// Pipeline owns every running component and their lifecycle.
type Pipeline struct {
	Hub     *hub.Hub
	Store   *store.Store
	Filter  *filter.Filter
	Search  *search.Engine
	Metrics *metrics.Registry

	locator *locator.Locator
	reader  *tailer.Reader
	parser  *parser.Parser
	batch   *batch.Processor

	cleanupSignal chan struct{}
	cancel        context.CancelFunc
}

// New builds a Pipeline rooted at logRoot, configured from snapshot.
func New(ctx context.Context, logRoot string, snapshot config.Snapshot) (*Pipeline, error) {
	ctx, cancel := context.WithCancel(ctx)

	m := metrics.New()
	f := filter.New(snapshot.Rules)
	f.SetMetrics(m)
	h := hub.New(snapshot.HubBatchPeriod())
	s := store.New(f, h)
	loc := locator.New(logRoot)
	p := parser.New(0)
	p.SetMetrics(m)

	cleanupSignal := make(chan struct{}, 1)
	reader, err := tailer.New(ctx, loc)
	if err != nil {
		cancel()
		return nil, err
	}
	reader.CleanupSignal = cleanupSignal

	bcfg := batch.DefaultConfig()
	bcfg.BatchSize = snapshot.BatchSize
	bcfg.BatchTimeout = snapshot.BatchTimeout()
	bcfg.MaxFlushSize = snapshot.MaxFlushSize
	bcfg.Workers = snapshot.Workers
	bp := batch.New(bcfg, p, s)

	scfg := search.DefaultConfig()
	scfg.LookbackWindow = snapshot.SearchLookback()
	scfg.MaxScanLines = snapshot.SearchMaxLines
	scfg.CacheTTL = snapshot.SearchCacheTTL()
	scfg.MaxTrackingAge = snapshot.TrackingMaxAge()
	se := search.New(scfg, loc, f, h, p)
	se.SetMetrics(m)

	return &Pipeline{
		Hub:           h,
		Store:         s,
		Filter:        f,
		Search:        se,
		Metrics:       m,
		locator:       loc,
		reader:        reader,
		parser:        p,
		batch:         bp,
		cleanupSignal: cleanupSignal,
		cancel:        cancel,
	}, nil
}

// Start begins the tailer-to-batch pump, the hub batching loop, and the
// search engine's background tracking loop.
func (pl *Pipeline) Start() {
	pl.Hub.Start()
	pl.batch.Start()
	pl.Search.Start()
	go pl.pump()
	go pl.watchCleanupSignal()
}

// Stop shuts every component down in reverse dependency order.
func (pl *Pipeline) Stop() {
	pl.cancel()
	pl.reader.Stop()
	pl.batch.Stop()
	pl.Search.Stop()
	pl.Hub.Stop()
}

func (pl *Pipeline) pump() {
	for line := range pl.reader.Lines() {
		pl.batch.Append(line)
	}
}

func (pl *Pipeline) watchCleanupSignal() {
	for range pl.cleanupSignal {
		log.Printf("pipeline: received disk-pressure cleanup signal")
	}
}
