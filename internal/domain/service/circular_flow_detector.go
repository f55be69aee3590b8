package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"math"
	"sort"
	"strings"
)

// CircularFlowDetector finds funds that travel around a loop of wallets and
// come back to where they started
type CircularFlowDetector struct {
	cfg CircularFlowConfig
}

// NewCircularFlowDetector creates a circular flow detector
func NewCircularFlowDetector(cfg CircularFlowConfig) *CircularFlowDetector {
	return &CircularFlowDetector{cfg: cfg}
}

// Name returns the detector name
func (d *CircularFlowDetector) Name() string { return string(entity.FindingCircularFlow) }

// pairFlow aggregates the parallel edges of one directed wallet pair
type pairFlow struct {
	count   int
	volume  float64
	firstTs int64
	lastTs  int64
}

type cycleSearch struct {
	ctx       context.Context
	maxEdges  int
	succ      map[string][]string
	pairs     map[[2]string]*pairFlow
	seen      map[string]struct{}
	cycles    []entity.CircularFlow
	steps     int
	cancelled error
}

// Detect runs a bounded depth-first search from every wallet. A cycle is only
// reported from its lexicographically smallest member, which together with the
// node-set key makes each loop appear once.
func (d *CircularFlowDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := &cycleSearch{
		ctx:      ctx,
		maxEdges: d.cfg.MaxPathLength,
		succ:     make(map[string][]string),
		pairs:    make(map[[2]string]*pairFlow),
		seen:     make(map[string]struct{}),
	}
	for _, e := range snapshot.Edges() {
		key := [2]string{e.From, e.To}
		p := search.pairs[key]
		if p == nil {
			p = &pairFlow{firstTs: e.TimestampMs, lastTs: e.TimestampMs}
			search.pairs[key] = p
			search.succ[e.From] = append(search.succ[e.From], e.To)
		}
		p.count++
		p.volume += e.Amount
		if e.TimestampMs < p.firstTs {
			p.firstTs = e.TimestampMs
		}
		if e.TimestampMs > p.lastTs {
			p.lastTs = e.TimestampMs
		}
	}
	for _, next := range search.succ {
		sort.Strings(next)
	}

	for _, start := range snapshot.Addresses() {
		search.walk(start, []string{start}, map[string]bool{start: true})
		if search.cancelled != nil {
			return nil, search.cancelled
		}
	}

	for i := range search.cycles {
		search.cycles[i].Confidence = d.confidence(search.cycles[i])
	}
	sort.SliceStable(search.cycles, func(i, j int) bool {
		a, b := search.cycles[i], search.cycles[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.TotalVolume > b.TotalVolume
	})
	if d.cfg.MaxResults > 0 && len(search.cycles) > d.cfg.MaxResults {
		search.cycles = search.cycles[:d.cfg.MaxResults]
	}

	findings := make([]entity.Finding, 0, len(search.cycles))
	for i := range search.cycles {
		flow := search.cycles[i]
		members := append([]string(nil), flow.Path[:len(flow.Path)-1]...)
		sort.Strings(members)
		findings = append(findings, entity.Finding{
			Type:       entity.FindingCircularFlow,
			Confidence: flow.Confidence,
			Description: fmt.Sprintf("funds cycled %s %d times (volume %.2f)",
				strings.Join(flow.Path, " -> "), flow.LoopCount, flow.TotalVolume),
			Wallets: members,
			Flow:    &flow,
		})
	}
	return findings, nil
}

func (s *cycleSearch) walk(current string, path []string, onPath map[string]bool) {
	if s.cancelled != nil {
		return
	}
	s.steps++
	if s.steps%256 == 0 {
		if err := s.ctx.Err(); err != nil {
			s.cancelled = err
			return
		}
	}

	start := path[0]
	for _, next := range s.succ[current] {
		if next == start {
			if len(path) >= 3 {
				s.record(append(append([]string(nil), path...), start))
			}
			continue
		}
		// only extend through wallets ordered after the start so each cycle
		// is discovered from its smallest member
		if next < start || onPath[next] || len(path) >= s.maxEdges {
			continue
		}
		onPath[next] = true
		s.walk(next, append(path, next), onPath)
		delete(onPath, next)
	}
}

func (s *cycleSearch) record(path []string) {
	members := append([]string(nil), path[:len(path)-1]...)
	sort.Strings(members)
	key := strings.Join(members, "|")
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}

	loops := math.MaxInt
	var volume float64
	first, last := int64(math.MaxInt64), int64(math.MinInt64)
	for i := 0; i+1 < len(path); i++ {
		p := s.pairs[[2]string{path[i], path[i+1]}]
		if p.count < loops {
			loops = p.count
		}
		volume += p.volume
		if p.firstTs < first {
			first = p.firstTs
		}
		if p.lastTs > last {
			last = p.lastTs
		}
	}

	s.cycles = append(s.cycles, entity.CircularFlow{
		Path:               path,
		TotalVolume:        volume,
		LoopCount:          loops,
		AvgLoopTimeMinutes: float64(last-first) / minuteMs / float64(loops),
	})
}

func (d *CircularFlowDetector) confidence(flow entity.CircularFlow) float64 {
	score := 40 + float64(flow.LoopCount)*10
	if flow.TotalVolume > d.cfg.HighVolume {
		score += 20
	}
	return math.Min(100, score) / 100
}
