package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"sort"
)

// CoordinatedClusterDetector finds many wallets selling within the same short
// time bucket. Edges from the previous snapshot that fall in the same buckets
// are merged in, so a burst split across two batches is still seen whole.
// Parallel edges of one snapshot all count; a previous edge identical to a
// current one is taken as the same transfer delivered twice.
type CoordinatedClusterDetector struct {
	cfg CoordinatedClusterConfig
}

// NewCoordinatedClusterDetector creates a coordinated cluster detector
func NewCoordinatedClusterDetector(cfg CoordinatedClusterConfig) *CoordinatedClusterDetector {
	return &CoordinatedClusterDetector{cfg: cfg}
}

// Name returns the detector name
func (d *CoordinatedClusterDetector) Name() string { return string(entity.FindingCoordinatedCluster) }

type edgeKey struct {
	from, to string
	amount   float64
	ts       int64
	kind     entity.TransferKind
}

func keyOf(e entity.Edge) edgeKey {
	return edgeKey{e.From, e.To, e.Amount, e.TimestampMs, e.Kind}
}

type timeBucket struct {
	sources map[string]struct{}
	sells   int
	total   int
}

// Detect emits one finding per qualifying bucket, in time order
func (d *CoordinatedClusterDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, history []*entity.Snapshot) ([]entity.Finding, error) {
	bucketMs := d.cfg.Bucket.Milliseconds()
	if bucketMs <= 0 {
		return nil, fmt.Errorf("invalid bucket width %s", d.cfg.Bucket)
	}

	buckets := make(map[int64]*timeBucket)
	add := func(e entity.Edge) {
		id := e.TimestampMs / bucketMs
		b := buckets[id]
		if b == nil {
			b = &timeBucket{sources: make(map[string]struct{})}
			buckets[id] = b
		}
		b.sources[e.From] = struct{}{}
		b.total++
		if e.Kind == entity.TransferKindSell {
			b.sells++
		}
	}

	current := make(map[edgeKey]struct{})
	for _, e := range snapshot.Edges() {
		current[keyOf(e)] = struct{}{}
		add(e)
	}
	if len(history) > 0 {
		prev := history[len(history)-1]
		for _, e := range prev.Edges() {
			if _, inBucket := buckets[e.TimestampMs/bucketMs]; !inBucket {
				continue
			}
			if _, dup := current[keyOf(e)]; dup {
				continue
			}
			add(e)
		}
	}

	ids := make([]int64, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var findings []entity.Finding
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := buckets[id]
		n := len(b.sources)
		if n < d.cfg.MinSources || n > d.cfg.MaxSources {
			continue
		}
		if float64(b.sells)/float64(b.total) <= d.cfg.MinSellRatio {
			continue
		}
		findings = append(findings, entity.Finding{
			Type:       entity.FindingCoordinatedCluster,
			Confidence: entity.ClampConfidence(d.cfg.ConfidenceScale * float64(n) / float64(d.cfg.MaxSources)),
			Description: fmt.Sprintf("%d wallets sold within the same %dms window (%d of %d transfers were sells)",
				n, bucketMs, b.sells, b.total),
			Wallets: sortedSet(b.sources),
		})
	}
	return findings, nil
}
