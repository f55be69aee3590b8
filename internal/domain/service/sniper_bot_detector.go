package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"math"
)

// SniperBotDetector finds wallets that bought right at launch and sold later.
// Launch is the earliest transfer visible in the window.
type SniperBotDetector struct {
	cfg SniperBotConfig
}

// NewSniperBotDetector creates a sniper bot detector
func NewSniperBotDetector(cfg SniperBotConfig) *SniperBotDetector {
	return &SniperBotDetector{cfg: cfg}
}

// Name returns the detector name
func (d *SniperBotDetector) Name() string { return string(entity.FindingSniperBot) }

// Detect emits a single aggregate finding covering the early buyers that sold
func (d *SniperBotDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, history []*entity.Snapshot) ([]entity.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	edges := historyEdges(snapshot, history)
	if len(edges) == 0 {
		return nil, nil
	}

	launch := int64(math.MaxInt64)
	for _, e := range edges {
		if e.TimestampMs < launch {
			launch = e.TimestampMs
		}
	}
	cutoff := launch + d.cfg.LaunchWindow.Milliseconds()

	firstBuy := make(map[string]int64)
	for _, e := range edges {
		if e.Kind != entity.TransferKindBuy || e.TimestampMs > cutoff {
			continue
		}
		if ts, ok := firstBuy[e.To]; !ok || e.TimestampMs < ts {
			firstBuy[e.To] = e.TimestampMs
		}
	}
	if len(firstBuy) < d.cfg.MinEarlyBuyers {
		return nil, nil
	}

	sellers := make(map[string]struct{})
	for _, e := range edges {
		if e.Kind != entity.TransferKindSell {
			continue
		}
		if ts, early := firstBuy[e.From]; early && e.TimestampMs > ts {
			sellers[e.From] = struct{}{}
		}
	}

	ratio := float64(len(sellers)) / float64(len(firstBuy))
	if ratio < d.cfg.MinSellerRatio {
		return nil, nil
	}
	return []entity.Finding{{
		Type:       entity.FindingSniperBot,
		Confidence: entity.ClampConfidence(d.cfg.ConfidenceScale * ratio),
		Description: fmt.Sprintf("%d of %d launch buyers sold within the observed window",
			len(sellers), len(firstBuy)),
		Wallets: sortedSet(sellers),
	}}, nil
}
