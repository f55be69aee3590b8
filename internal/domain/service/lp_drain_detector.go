package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"sort"
)

// LPDrainDetector finds wallets with large, mostly one-directional outflow.
// Totals are accumulated over the whole window so a gradual drain spread across
// several batches is still caught.
type LPDrainDetector struct {
	cfg LPDrainConfig
}

// NewLPDrainDetector creates an LP drain detector
func NewLPDrainDetector(cfg LPDrainConfig) *LPDrainDetector {
	return &LPDrainDetector{cfg: cfg}
}

// Name returns the detector name
func (d *LPDrainDetector) Name() string { return string(entity.FindingLPDrain) }

type flowTotals struct {
	inflow, outflow float64
}

// Detect emits one finding per drain candidate, ordered by address
func (d *LPDrainDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, history []*entity.Snapshot) ([]entity.Finding, error) {
	totals := make(map[string]*flowTotals)
	accumulate := func(s *entity.Snapshot) {
		for _, n := range s.Nodes() {
			t := totals[n.Address]
			if t == nil {
				t = &flowTotals{}
				totals[n.Address] = t
			}
			t.inflow += n.TotalInflow
			t.outflow += n.TotalOutflow
		}
	}
	for _, s := range history {
		accumulate(s)
	}
	accumulate(snapshot)

	addresses := make([]string, 0, len(totals))
	for addr := range totals {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	var findings []entity.Finding
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := totals[addr]
		if t.outflow <= d.cfg.MinOutflow {
			continue
		}
		ratio := t.outflow / (t.outflow + t.inflow)
		if ratio <= d.cfg.MinOutflowRatio {
			continue
		}
		findings = append(findings, entity.Finding{
			Type:        entity.FindingLPDrain,
			Confidence:  entity.ClampConfidence(ratio),
			Description: fmt.Sprintf("wallet %s moved out %.2f against %.2f in (%.0f%% outflow)", addr, t.outflow, t.inflow, ratio*100),
			Wallets:     []string{addr},
		})
	}
	return findings, nil
}
