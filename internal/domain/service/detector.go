package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"errors"
	"fmt"
	"sort"
)

// ErrDetectorTimeout is reported when a detector exceeds its time budget
var ErrDetectorTimeout = errors.New("detector exceeded its time budget")

// Detector inspects a snapshot, optionally with the session's history
// (oldest first, excluding the snapshot itself), and reports the patterns it
// finds. Implementations must not mutate their inputs.
type Detector interface {
	Name() string
	Detect(ctx context.Context, snapshot *entity.Snapshot, history []*entity.Snapshot) ([]entity.Finding, error)
}

// DetectorError wraps a failure of a single detector
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// DefaultDetectors returns the eight built-in detectors in their canonical order
func DefaultDetectors(cfg EngineConfig) []Detector {
	return []Detector{
		NewStarDumpDetector(cfg.StarDump),
		NewCoordinatedClusterDetector(cfg.CoordinatedCluster),
		NewBridgeWalletDetector(cfg.BridgeWallet),
		NewLPDrainDetector(cfg.LPDrain),
		NewSniperBotDetector(cfg.SniperBot),
		NewCircularFlowDetector(cfg.CircularFlow),
		NewPingPongDetector(cfg.PingPong),
		NewBotFarmDetector(cfg.BotFarm),
	}
}

// historyEdges returns the edges of every history snapshot, oldest first, followed by the current ones
func historyEdges(snapshot *entity.Snapshot, history []*entity.Snapshot) []entity.Edge {
	var edges []entity.Edge
	for _, s := range history {
		edges = append(edges, s.Edges()...)
	}
	return append(edges, snapshot.Edges()...)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
