package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"errors"
)

var (
	ErrSessionNotFound = errors.New("no monitoring session for token")
	ErrSessionBusy     = errors.New("monitoring session queue is full")
	ErrServiceClosed   = errors.New("monitoring service is shut down")
)

// SessionOptions carries the per-token inputs of an analysis
type SessionOptions struct {
	LPPoolAddress   *string
	PreMigration    bool
	HeuristicSafety float64
}

// MonitoringService defines the interface for per-token monitoring sessions
type MonitoringService interface {
	// StartSession begins monitoring a token, or updates the options of an existing session
	StartSession(ctx context.Context, tokenMint string, opts SessionOptions) error

	// StopSession ends monitoring of a token and discards its window
	StopSession(tokenMint string) error

	// Submit queues a batch of transfers for the token's session without blocking
	Submit(tokenMint string, events []entity.TransferEvent) error

	// AnalyzeOnce runs a single analysis against a fresh window
	AnalyzeOnce(ctx context.Context, tokenMint string, events []entity.TransferEvent, opts SessionOptions) (*entity.RiskDecision, error)

	// LastDecision returns the latest decision of a running session
	LastDecision(tokenMint string) (*entity.RiskDecision, bool)

	// ActiveSessions lists monitored tokens in ascending order
	ActiveSessions() []string

	// Shutdown stops every session and waits for their workers
	Shutdown(ctx context.Context) error
}
