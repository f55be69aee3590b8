package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
)

// StarDumpDetector finds a single wallet fanning out what it received to many
// recipients. Buys are not counted as fan-out so the pool itself never qualifies.
type StarDumpDetector struct {
	cfg StarDumpConfig
}

// NewStarDumpDetector creates a star dump detector
func NewStarDumpDetector(cfg StarDumpConfig) *StarDumpDetector {
	return &StarDumpDetector{cfg: cfg}
}

// Name returns the detector name
func (d *StarDumpDetector) Name() string { return string(entity.FindingStarDump) }

// Detect reports at most one finding, for the strongest candidate hub
func (d *StarDumpDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	var (
		hub        string
		hubRatio   float64
		recipients []string
	)

	for _, n := range snapshot.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outbound := 0
		targets := make(map[string]struct{})
		for _, e := range snapshot.OutEdges(n.Address) {
			if e.Kind == entity.TransferKindBuy {
				continue
			}
			outbound++
			targets[e.To] = struct{}{}
		}
		if outbound < d.cfg.MinOutboundEdges || len(targets) < d.cfg.MinRecipients {
			continue
		}

		ratio := drainRatio(n)
		if ratio <= d.cfg.MinDrainRatio {
			continue
		}
		if hub == "" || ratio > hubRatio || (ratio == hubRatio && len(targets) > len(recipients)) {
			hub, hubRatio, recipients = n.Address, ratio, sortedSet(targets)
		}
	}

	if hub == "" {
		return nil, nil
	}

	confidence := entity.ClampConfidence(hubRatio * float64(len(recipients)) / d.cfg.RecipientScale)
	return []entity.Finding{{
		Type:       entity.FindingStarDump,
		Confidence: confidence,
		Description: fmt.Sprintf("wallet %s forwarded %.0f%% of its inflow to %d recipients",
			hub, hubRatio*100, len(recipients)),
		Wallets: append([]string{hub}, recipients...),
	}}, nil
}

// drainRatio is the share of received volume the wallet has sent on, capped at 1.
// A wallet that only sends is fully drained.
func drainRatio(n entity.Node) float64 {
	if n.TotalOutflow <= 0 {
		return 0
	}
	if n.TotalInflow <= 0 {
		return 1
	}
	return clamp01(n.TotalOutflow / n.TotalInflow)
}
