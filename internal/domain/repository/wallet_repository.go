package repository

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
)

// WalletRepository defines the interface for wallet flow and flag storage
type WalletRepository interface {
	// SaveSnapshotFlows merges the wallets and aggregated transfers of a snapshot into the graph
	SaveSnapshotFlows(ctx context.Context, tokenMint string, snapshot *entity.Snapshot) error

	// FlagWallets records the wallets implicated by a decision's findings
	FlagWallets(ctx context.Context, record *entity.DecisionRecord) error

	// GetFlaggedWallets retrieves flagged wallets for a token ordered by confidence
	GetFlaggedWallets(ctx context.Context, tokenMint string, limit int) ([]*entity.FlaggedWallet, error)
}
