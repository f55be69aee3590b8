package service

import (
	"crypto-rug-graph-detector/internal/domain/entity"
	"fmt"
	"math"
)

// Score is the temporal risk assessment derived from findings and graph structure
type Score struct {
	FindingPoints    float64
	WashPoints       float64
	StructuralPoints float64
	Total            float64 // clamped to [0, 100]
	Safety           float64 // 1 - Total/100
	Factors          []string
}

// Scorer folds findings and graph metrics into a safety score and verdict
type Scorer struct {
	cfg ScorerConfig
}

// NewScorer creates a scorer
func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score converts findings and structural metrics into temporal safety
func (s *Scorer) Score(findings []entity.Finding, metrics entity.GraphMetrics) Score {
	var (
		sc       Score
		starDump bool
	)
	for _, f := range findings {
		sc.Factors = append(sc.Factors, fmt.Sprintf("%s (%.0f%%): %s", f.Type, f.Confidence*100, f.Description))

		switch f.Type {
		case entity.FindingStarDump:
			starDump = true
			sc.FindingPoints += s.cfg.StarDumpWeight * f.Confidence
		case entity.FindingCoordinatedCluster:
			sc.FindingPoints += s.cfg.CoordinatedClusterWeight * f.Confidence
		case entity.FindingLPDrain:
			sc.FindingPoints += s.cfg.LPDrainWeight * f.Confidence
		case entity.FindingBridgeWallet:
			sc.FindingPoints += s.cfg.BridgeWalletWeight * f.Confidence
		case entity.FindingSniperBot:
			sc.FindingPoints += s.cfg.SniperBotWeight * f.Confidence
		case entity.FindingCircularFlow:
			sc.WashPoints += s.cfg.CircularFlowPoints
		case entity.FindingPingPong:
			sc.WashPoints += s.cfg.PingPongPoints
		case entity.FindingBotFarm:
			sc.WashPoints += s.cfg.BotFarmPoints
		}
	}
	if sc.WashPoints > s.cfg.WashTradingCap {
		sc.WashPoints = s.cfg.WashTradingCap
	}

	bonus, factors := s.structuralBonus(metrics, starDump)
	sc.StructuralPoints = bonus
	sc.Factors = append(sc.Factors, factors...)

	sc.Total = math.Max(0, math.Min(100, sc.FindingPoints+sc.WashPoints+sc.StructuralPoints))
	sc.Safety = 1 - sc.Total/100
	return sc
}

// structuralBonus awards the centralization, wash-structure and dominance
// bonuses. A dump hub's fan-out adds exactly the wallets and edges that void
// those conditions, so with a star_dump finding all three apply in full and
// adding a dump to a graph never lowers its score.
func (s *Scorer) structuralBonus(m entity.GraphMetrics, starDump bool) (float64, []string) {
	if starDump {
		full := s.cfg.CentralizationBonus + s.cfg.WashStructureBonus + s.cfg.DominanceBonus
		return full, []string{fmt.Sprintf("star dump hub %s: full structural bonus", m.MaxOutflowNode)}
	}

	var (
		bonus   float64
		factors []string
	)

	if m.EdgeCount > 0 && m.ClusterCoefficient < s.cfg.CentralizationMaxCoefficient && m.EdgeCount < s.cfg.CentralizationMaxEdges {
		b := s.cfg.CentralizationBonus * (1 - m.ClusterCoefficient/s.cfg.CentralizationMaxCoefficient)
		bonus += b
		factors = append(factors, fmt.Sprintf("centralized flow structure (clustering %.3f)", m.ClusterCoefficient))
	}

	if m.NodeCount > 0 && m.NodeCount < s.cfg.WashStructureMaxNodes && m.EdgeCount > s.cfg.WashStructureMinEdges {
		perNode := float64(m.EdgeCount) / float64(m.NodeCount)
		bonus += s.cfg.WashStructureBonus * math.Min(1, perNode/5)
		factors = append(factors, fmt.Sprintf("dense trading among few wallets (%d transfers across %d wallets)", m.EdgeCount, m.NodeCount))
	}

	if m.MaxOutflowShare > s.cfg.DominanceMinShare {
		bonus += s.cfg.DominanceBonus * m.MaxOutflowShare
		factors = append(factors, fmt.Sprintf("wallet %s accounts for %.0f%% of outflow", m.MaxOutflowNode, m.MaxOutflowShare*100))
	}

	return bonus, factors
}

// Blend combines temporal and heuristic safety. When no temporal detector ran
// successfully the heuristic stands alone.
func (s *Scorer) Blend(temporalSafety, heuristicSafety float64, temporalRan bool) float64 {
	heuristicSafety = clamp01(heuristicSafety)
	if !temporalRan {
		return heuristicSafety
	}
	return clamp01(s.cfg.TemporalWeight*temporalSafety + s.cfg.HeuristicWeight*heuristicSafety)
}

// Verdict applies the regime-specific decision policy
func (s *Scorer) Verdict(finalSafety float64, preMigration bool) entity.Verdict {
	if preMigration {
		if finalSafety >= s.cfg.PreMigrationPassSafety {
			return entity.VerdictPass
		}
		return entity.VerdictReject
	}

	switch {
	case finalSafety >= s.cfg.PostMigrationPassSafety:
		return entity.VerdictPass
	case 1-finalSafety > s.cfg.PostMigrationRejectRisk:
		return entity.VerdictReject
	default:
		return entity.VerdictMarginal
	}
}
