package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"sort"
)

// PingPongDetector finds wallet pairs bouncing transfers back and forth
type PingPongDetector struct {
	cfg PingPongConfig
}

// NewPingPongDetector creates a ping-pong detector
func NewPingPongDetector(cfg PingPongConfig) *PingPongDetector {
	return &PingPongDetector{cfg: cfg}
}

// Name returns the detector name
func (d *PingPongDetector) Name() string { return string(entity.FindingPingPong) }

// Detect emits one finding per qualifying unordered pair
func (d *PingPongDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	directed := make(map[[2]string]int)
	for _, e := range snapshot.Edges() {
		directed[[2]string{e.From, e.To}]++
	}

	var pairs [][2]string
	for k := range directed {
		if k[0] < k[1] && directed[[2]string{k[1], k[0]}] > 0 {
			pairs = append(pairs, k)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	var findings []entity.Finding
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		forward, backward := directed[p], directed[[2]string{p[1], p[0]}]
		count := forward + backward
		if count < d.cfg.MinTransfers {
			continue
		}
		findings = append(findings, entity.Finding{
			Type:        entity.FindingPingPong,
			Confidence:  entity.ClampConfidence(d.cfg.BaseConfidence + d.cfg.ConfidencePerTransfer*float64(count)),
			Description: fmt.Sprintf("wallets %s and %s exchanged %d transfers (%d/%d)", p[0], p[1], count, forward, backward),
			Wallets:     []string{p[0], p[1]},
		})
	}
	return findings, nil
}
