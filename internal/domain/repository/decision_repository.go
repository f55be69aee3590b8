package repository

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
)

// DecisionRepository defines the interface for risk decision storage
type DecisionRepository interface {
	// SaveDecision stores a decision and links it to its token
	SaveDecision(ctx context.Context, record *entity.DecisionRecord) error

	// GetRecentDecisions retrieves the latest decisions for a token, newest first
	GetRecentDecisions(ctx context.Context, tokenMint string, limit int) ([]*entity.DecisionRecord, error)
}
