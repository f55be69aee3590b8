package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
)

// BridgeWalletDetector finds short-lived wallets that pass almost everything
// they receive straight through
type BridgeWalletDetector struct {
	cfg BridgeWalletConfig
}

// NewBridgeWalletDetector creates a bridge wallet detector
func NewBridgeWalletDetector(cfg BridgeWalletConfig) *BridgeWalletDetector {
	return &BridgeWalletDetector{cfg: cfg}
}

// Name returns the detector name
func (d *BridgeWalletDetector) Name() string { return string(entity.FindingBridgeWallet) }

// Detect emits a single aggregate finding when enough bridges are present
func (d *BridgeWalletDetector) Detect(ctx context.Context, snapshot *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	maxLifetime := d.cfg.MaxLifetime.Milliseconds()

	var bridges []string
	for _, n := range snapshot.Nodes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if n.LifetimeMs() < maxLifetime &&
			n.OutflowRatio() > d.cfg.MinOutflowRatio &&
			n.TransferCount <= d.cfg.MaxTransfers {
			bridges = append(bridges, n.Address)
		}
	}

	if len(bridges) < d.cfg.MinWallets {
		return nil, nil
	}
	return []entity.Finding{{
		Type:        entity.FindingBridgeWallet,
		Confidence:  entity.ClampConfidence(d.cfg.ConfidenceScale * float64(len(bridges)) / d.cfg.WalletScale),
		Description: fmt.Sprintf("%d short-lived wallets with almost entirely outbound flow", len(bridges)),
		Wallets:     bridges,
	}}, nil
}
