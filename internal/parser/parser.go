// Package parser turns raw order-status log lines into normalized Order
// values, applying a cheap byte-level pre-filter before paying for a JSON
// decode, then the side/status/numeric normalization rules.
package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qzavyer/hypernode-orderfeed/internal/metrics"
	"github.com/qzavyer/hypernode-orderfeed/internal/ordermodel"
)

// Outcome classifies what became of a single line. Modeled as a result
// value rather than an error so the caller can count rejection reasons
// without inspecting error text.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomePreFiltered
	OutcomeDecodeError
	OutcomeUnknownSide
	OutcomeRejectedStatus
	OutcomeInvalidNumeric
	OutcomeInvalidTimestamp
)

// timestampLayout matches the log's actual wire format: ISO-8601 with
// sub-second precision and no zone designator. Absent a zone, time.Parse
// treats it as UTC, which is what the field means here.
const timestampLayout = "2006-01-02T15:04:05.999999999"

// rawEvent mirrors the wire shape of a single order-status log line.
type rawEvent struct {
	Time   string `json:"time"`
	User   string `json:"user"`
	Status string `json:"status"`
	Order  struct {
		OID     string `json:"oid"`
		Coin    string `json:"coin"`
		Side    string `json:"side"`
		LimitPx string `json:"limitPx"`
		OrigSz  string `json:"origSz"`
	} `json:"order"`
}

// Parser decodes raw lines into Orders. It is safe for concurrent use only
// through its exported methods, which hold no mutable state except the
// optional memoization cache.
type Parser struct {
	cache   *lru.Cache[string, cachedResult]
	metrics *metrics.Registry
}

type cachedResult struct {
	order        ordermodel.Order
	outcome      Outcome
	warn         bool
	rejectStatus string // raw status string, populated only for OutcomeRejectedStatus
}

// New creates a Parser. cacheSize of 0 disables memoization entirely; the
// cache is a pure performance optimization and never affects correctness.
func New(cacheSize int) *Parser {
	p := &Parser{}
	if cacheSize > 0 {
		c, err := lru.New[string, cachedResult](cacheSize)
		if err == nil {
			p.cache = c
		}
	}
	return p
}

// SetMetrics installs the counters Parse reports pre-filter, decode, and
// per-rejection-status outcomes to.
func (p *Parser) SetMetrics(m *metrics.Registry) {
	p.metrics = m
}

// Parse decodes a single line. warn reports a condition worth logging that
// did not prevent producing an Order (e.g. an unrecognized but non-rejected
// status).
func (p *Parser) Parse(line []byte) (order ordermodel.Order, outcome Outcome, warn bool) {
	if !preFilterPasses(line) {
		p.recordMetrics(OutcomePreFiltered, "")
		return ordermodel.Order{}, OutcomePreFiltered, false
	}

	if p.cache != nil {
		if cached, ok := p.cache.Get(string(line)); ok {
			p.recordMetrics(cached.outcome, cached.rejectStatus)
			return cached.order, cached.outcome, cached.warn
		}
	}

	var rejectStatus string
	order, outcome, warn, rejectStatus = p.decode(line)

	if p.cache != nil {
		p.cache.Add(string(line), cachedResult{order: order, outcome: outcome, warn: warn, rejectStatus: rejectStatus})
	}
	p.recordMetrics(outcome, rejectStatus)
	return order, outcome, warn
}

func (p *Parser) recordMetrics(outcome Outcome, rejectStatus string) {
	if p.metrics == nil {
		return
	}
	switch outcome {
	case OutcomePreFiltered:
		p.metrics.PreFiltered.Inc()
	case OutcomeDecodeError, OutcomeInvalidNumeric, OutcomeInvalidTimestamp:
		p.metrics.ParseErrors.Inc()
	case OutcomeUnknownSide:
		p.metrics.UnknownSide.Inc()
	case OutcomeRejectedStatus:
		p.metrics.RejectedByStatus.WithLabelValues(rejectStatus).Inc()
	}
}

// preFilterPasses rejects lines that cannot possibly be a valid order event
// before paying for a JSON decode.
func preFilterPasses(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) < 2 {
		return false
	}
	if trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return false
	}
	if !bytes.Contains(trimmed, []byte(`"order"`)) {
		return false
	}
	if !bytes.Contains(trimmed, []byte(`"status"`)) {
		return false
	}
	return true
}

func (p *Parser) decode(line []byte) (ordermodel.Order, Outcome, bool, string) {
	var raw rawEvent
	if err := json.Unmarshal(line, &raw); err != nil {
		return ordermodel.Order{}, OutcomeDecodeError, false, ""
	}

	side, ok := ordermodel.ParseSideCode(raw.Order.Side)
	if !ok {
		return ordermodel.Order{}, OutcomeUnknownSide, false, ""
	}

	status, rejected, warn := ordermodel.ParseStatus(raw.Status)
	if rejected {
		return ordermodel.Order{}, OutcomeRejectedStatus, false, raw.Status
	}

	price, err := strconv.ParseFloat(raw.Order.LimitPx, 64)
	if err != nil || price <= 0 {
		return ordermodel.Order{}, OutcomeInvalidNumeric, false, ""
	}
	size, err := strconv.ParseFloat(raw.Order.OrigSz, 64)
	if err != nil || size < 0 {
		return ordermodel.Order{}, OutcomeInvalidNumeric, false, ""
	}

	ts, err := time.Parse(timestampLayout, raw.Time)
	if err != nil {
		return ordermodel.Order{}, OutcomeInvalidTimestamp, false, ""
	}

	order := ordermodel.Order{
		ID:        raw.Order.OID,
		Symbol:    raw.Order.Coin,
		Side:      side,
		Price:     price,
		Size:      size,
		Owner:     raw.User,
		Timestamp: ts.UTC(),
		Status:    status,
	}
	return order, OutcomeAccepted, warn, ""
}
