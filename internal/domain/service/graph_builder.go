package service

import (
	"crypto-rug-graph-detector/internal/domain/entity"
	"errors"
	"math"
	"sort"
)

const (
	memoryDecay      = 0.9
	minuteMs         = 60_000.0
	recencyHorizonMs = 3_600_000.0
)

// IngestStats reports how a batch of events was absorbed
type IngestStats struct {
	Accepted int
	Skipped  int
	Reasons  map[string]int // skip reason -> count
}

// GraphBuilder accumulates transfer events into wallet nodes and edges.
// It is owned by one analysis and is not safe for concurrent use.
type GraphBuilder struct {
	tokenMint      string
	lpPool         string
	nowMs          int64
	nodes          map[string]*entity.Node
	counterparties map[string]map[string]struct{}
	edges          []entity.Edge
}

// NewGraphBuilder creates a builder for one token. nowMs is the reference time
// used for recency scoring and as the snapshot timestamp.
func NewGraphBuilder(tokenMint, lpPool string, nowMs int64) *GraphBuilder {
	return &GraphBuilder{
		tokenMint:      tokenMint,
		lpPool:         lpPool,
		nowMs:          nowMs,
		nodes:          make(map[string]*entity.Node),
		counterparties: make(map[string]map[string]struct{}),
	}
}

// Ingest absorbs a batch of events in timestamp order. Malformed events are
// skipped and counted; an empty batch leaves the builder unchanged.
func (b *GraphBuilder) Ingest(events []entity.TransferEvent) IngestStats {
	stats := IngestStats{Reasons: make(map[string]int)}
	if len(events) == 0 {
		return stats
	}

	ordered := make([]entity.TransferEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimestampMs < ordered[j].TimestampMs
	})

	for _, ev := range ordered {
		if err := b.validate(ev); err != nil {
			stats.Skipped++
			stats.Reasons[skipReason(err)]++
			continue
		}
		b.apply(ev)
		stats.Accepted++
	}
	return stats
}

func (b *GraphBuilder) validate(ev entity.TransferEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if b.tokenMint != "" && ev.TokenMint != "" && ev.TokenMint != b.tokenMint {
		return entity.ErrMintMismatch
	}
	return nil
}

func (b *GraphBuilder) apply(ev entity.TransferEvent) {
	from := b.touch(ev.From, ev.TimestampMs)
	to := b.touch(ev.To, ev.TimestampMs)

	from.TotalOutflow += ev.Amount
	to.TotalInflow += ev.Amount

	b.updateMemory(from, ev.To, ev)
	b.updateMemory(to, ev.From, ev)

	b.edges = append(b.edges, entity.Edge{
		From:        ev.From,
		To:          ev.To,
		Amount:      ev.Amount,
		TimestampMs: ev.TimestampMs,
		Kind:        ev.ResolveKind(b.lpPool),
	})
}

func (b *GraphBuilder) touch(address string, ts int64) *entity.Node {
	n, ok := b.nodes[address]
	if !ok {
		n = &entity.Node{Address: address, FirstSeen: ts, LastSeen: ts}
		b.nodes[address] = n
	}
	if ts < n.FirstSeen {
		n.FirstSeen = ts
	}
	if ts > n.LastSeen {
		n.LastSeen = ts
	}
	n.TransferCount++
	return n
}

func (b *GraphBuilder) updateMemory(n *entity.Node, counterparty string, ev entity.TransferEvent) {
	n.Memory[entity.MemoryAvgTransferSize] = memoryDecay*n.Memory[entity.MemoryAvgTransferSize] + (1-memoryDecay)*ev.Amount

	lifetimeMinutes := math.Max(1, float64(n.LifetimeMs())/minuteMs)
	n.Memory[entity.MemoryFrequencyPerMinute] = float64(n.TransferCount) / lifetimeMinutes

	age := float64(b.nowMs - ev.TimestampMs)
	n.Memory[entity.MemoryRecencyScore] = clamp01(1 - age/recencyHorizonMs)

	seen := b.counterparties[n.Address]
	if seen == nil {
		seen = make(map[string]struct{}, 4)
		b.counterparties[n.Address] = seen
	}
	repeat := 0.0
	if _, ok := seen[counterparty]; ok {
		repeat = 1
	}
	seen[counterparty] = struct{}{}
	n.Memory[entity.MemoryClusterAffinity] = memoryDecay*n.Memory[entity.MemoryClusterAffinity] + (1-memoryDecay)*repeat
}

// Snapshot returns an immutable copy of the current graph
func (b *GraphBuilder) Snapshot() *entity.Snapshot {
	nodes := make(map[string]entity.Node, len(b.nodes))
	for addr, n := range b.nodes {
		nodes[addr] = *n
	}
	return entity.NewSnapshot(b.nowMs, nodes, b.edges)
}

// BuildSnapshot builds a snapshot from a single batch of events
func BuildSnapshot(tokenMint, lpPool string, nowMs int64, events []entity.TransferEvent) (*entity.Snapshot, IngestStats) {
	b := NewGraphBuilder(tokenMint, lpPool, nowMs)
	stats := b.Ingest(events)
	return b.Snapshot(), stats
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, entity.ErrMissingAddress):
		return "missing_address"
	case errors.Is(err, entity.ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, entity.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, entity.ErrInvalidTimestamp):
		return "invalid_timestamp"
	case errors.Is(err, entity.ErrMintMismatch):
		return "mint_mismatch"
	default:
		return "invalid"
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
