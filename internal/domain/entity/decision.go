package entity

import (
	"sort"
	"time"
)

// Verdict is the final accept/reject outcome of an analysis
type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictReject   Verdict = "reject"
	VerdictMarginal Verdict = "marginal" // callers wanting conservative behaviour treat this as reject
)

// DecisionStatus records which path produced a decision
type DecisionStatus string

const (
	DecisionStatusScored           DecisionStatus = "scored"
	DecisionStatusInsufficientData DecisionStatus = "insufficient_data"
	DecisionStatusDisabled         DecisionStatus = "disabled"
)

// Risk factor labels used by the short-circuit decisions
const (
	RiskFactorInsufficientData = "insufficient data"
	RiskFactorTemporalDisabled = "temporal analysis disabled"
	RiskFactorDetectorsFailed  = "all temporal detectors failed"
)

// RiskDecision is the composite result handed back to the caller
type RiskDecision struct {
	TokenMint       string         `json:"token_mint"`
	Status          DecisionStatus `json:"status"`
	RugProbability  float64        `json:"rug_probability"`
	Verdict         Verdict        `json:"verdict"`
	PreMigration    bool           `json:"pre_migration"`
	Findings        []Finding      `json:"findings"`
	GraphMetrics    GraphMetrics   `json:"graph_metrics"`
	RiskFactors     []string       `json:"risk_factors"`
	TemporalSafety  float64        `json:"temporal_safety"`
	HeuristicSafety float64        `json:"heuristic_safety"`
	FinalSafety     float64        `json:"final_safety"`
	TemporalRan     bool           `json:"temporal_ran"`
	FailedDetectors []string       `json:"failed_detectors,omitempty"`
	EventCount      int            `json:"event_count"`
	SkippedEvents   int            `json:"skipped_events"`
	SnapshotTimeMs  int64          `json:"snapshot_time_ms"`
}

// HasFinding reports whether the decision carries a finding of the given type
func (d *RiskDecision) HasFinding(t FindingType) bool {
	for _, f := range d.Findings {
		if f.Type == t {
			return true
		}
	}
	return false
}

// FindingsOf returns the findings of one type
func (d *RiskDecision) FindingsOf(t FindingType) []Finding {
	var out []Finding
	for _, f := range d.Findings {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

// IsSafe reports whether the token passed
func (d *RiskDecision) IsSafe() bool {
	return d.Verdict == VerdictPass
}

// DecisionRecord is a decision as handed to the persistence and alerting sinks
type DecisionRecord struct {
	ID         string        `json:"id"`
	AnalyzedAt time.Time     `json:"analyzed_at"`
	Source     string        `json:"source"` // "session" or "on_demand"
	Decision   *RiskDecision `json:"decision"`
}

// FlaggedWallet is a wallet implicated by one or more findings of a token
type FlaggedWallet struct {
	Address       string        `json:"address"`
	TokenMint     string        `json:"token_mint"`
	FindingTypes  []FindingType `json:"finding_types"`
	MaxConfidence float64       `json:"max_confidence"`
	LastFlagged   time.Time     `json:"last_flagged"`
}

// FlaggedWallets indexes the wallets implicated by the decision's findings, ordered by address
func (d *RiskDecision) FlaggedWallets(at time.Time) []*FlaggedWallet {
	byAddr := make(map[string]*FlaggedWallet)
	var order []string
	for _, f := range d.Findings {
		for _, addr := range f.Wallets {
			w, ok := byAddr[addr]
			if !ok {
				w = &FlaggedWallet{Address: addr, TokenMint: d.TokenMint, LastFlagged: at}
				byAddr[addr] = w
				order = append(order, addr)
			}
			if !containsFindingType(w.FindingTypes, f.Type) {
				w.FindingTypes = append(w.FindingTypes, f.Type)
			}
			if f.Confidence > w.MaxConfidence {
				w.MaxConfidence = f.Confidence
			}
		}
	}
	sort.Strings(order)
	out := make([]*FlaggedWallet, 0, len(order))
	for _, addr := range order {
		out = append(out, byAddr[addr])
	}
	return out
}

func containsFindingType(types []FindingType, t FindingType) bool {
	for _, existing := range types {
		if existing == t {
			return true
		}
	}
	return false
}
