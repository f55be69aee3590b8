package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"sort"
)

// BotFarmDetector finds wallets whose transfer timing is too regular and too
// fast to be manual
type BotFarmDetector struct {
	cfg BotFarmConfig
}

// NewBotFarmDetector creates a bot farm detector
func NewBotFarmDetector(cfg BotFarmConfig) *BotFarmDetector {
	return &BotFarmDetector{cfg: cfg}
}

// Name returns the detector name
func (d *BotFarmDetector) Name() string { return string(entity.FindingBotFarm) }

// Detect emits a single aggregate finding once enough bot wallets are present
func (d *BotFarmDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	timestamps := make(map[string][]int64)
	for _, e := range snapshot.Edges() {
		timestamps[e.From] = append(timestamps[e.From], e.TimestampMs)
		timestamps[e.To] = append(timestamps[e.To], e.TimestampMs)
	}

	var bots []string
	for _, addr := range snapshot.Addresses() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.isBot(timestamps[addr]) {
			bots = append(bots, addr)
		}
	}

	if len(bots) < d.cfg.MinBots {
		return nil, nil
	}
	return []entity.Finding{{
		Type:        entity.FindingBotFarm,
		Confidence:  entity.ClampConfidence(d.cfg.BaseConfidence + d.cfg.ConfidencePerBot*float64(len(bots))),
		Description: fmt.Sprintf("%d wallets transact at machine-like intervals", len(bots)),
		Wallets:     bots,
	}}, nil
}

func (d *BotFarmDetector) isBot(ts []int64) bool {
	if len(ts) < 2 {
		return false
	}
	sorted := append([]int64(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	maxGap := d.cfg.MaxGap.Milliseconds()
	gaps := len(sorted) - 1
	fast, run := 0, 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i]-sorted[i-1] < maxGap {
			fast++
			run++
			if run >= d.cfg.MinConsecutiveGaps {
				return true
			}
		} else {
			run = 0
		}
	}
	return len(sorted) > d.cfg.MinTransfersForRatio && float64(fast)/float64(gaps) > d.cfg.MinFastGapRatio
}
