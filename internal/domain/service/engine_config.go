package service

import (
	"fmt"
	"time"
)

// EngineConfig holds every tunable of the detection engine. All thresholds are
// policy constants chosen empirically and are expected to be recalibrated.
type EngineConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	WindowCapacity         int           `mapstructure:"window_capacity"`
	MinTransactions        int           `mapstructure:"min_transactions"`
	DetectorTimeout        time.Duration `mapstructure:"detector_timeout"`
	MaxConcurrentDetectors int           `mapstructure:"max_concurrent_detectors"`

	StarDump           StarDumpConfig           `mapstructure:"star_dump"`
	CoordinatedCluster CoordinatedClusterConfig `mapstructure:"coordinated_cluster"`
	BridgeWallet       BridgeWalletConfig       `mapstructure:"bridge_wallet"`
	LPDrain            LPDrainConfig            `mapstructure:"lp_drain"`
	SniperBot          SniperBotConfig          `mapstructure:"sniper_bot"`
	CircularFlow       CircularFlowConfig       `mapstructure:"circular_flow"`
	PingPong           PingPongConfig           `mapstructure:"ping_pong"`
	BotFarm            BotFarmConfig            `mapstructure:"bot_farm"`

	Scorer ScorerConfig `mapstructure:"scorer"`
}

// StarDumpConfig configures the fan-out dump detector
type StarDumpConfig struct {
	MinDrainRatio    float64 `mapstructure:"min_drain_ratio"`
	MinRecipients    int     `mapstructure:"min_recipients"`
	MinOutboundEdges int     `mapstructure:"min_outbound_edges"`
	RecipientScale   float64 `mapstructure:"recipient_scale"`
}

// CoordinatedClusterConfig configures the synchronized-sell detector
type CoordinatedClusterConfig struct {
	Bucket          time.Duration `mapstructure:"bucket"`
	MinSources      int           `mapstructure:"min_sources"`
	MaxSources      int           `mapstructure:"max_sources"`
	MinSellRatio    float64       `mapstructure:"min_sell_ratio"`
	ConfidenceScale float64       `mapstructure:"confidence_scale"`
}

// BridgeWalletConfig configures the pass-through wallet detector
type BridgeWalletConfig struct {
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
	MinOutflowRatio float64       `mapstructure:"min_outflow_ratio"`
	MaxTransfers    int           `mapstructure:"max_transfers"`
	MinWallets      int           `mapstructure:"min_wallets"`
	ConfidenceScale float64       `mapstructure:"confidence_scale"`
	WalletScale     float64       `mapstructure:"wallet_scale"` // bridges for full scaled confidence
}

// LPDrainConfig configures the liquidity drain detector
type LPDrainConfig struct {
	MinOutflowRatio float64 `mapstructure:"min_outflow_ratio"`
	MinOutflow      float64 `mapstructure:"min_outflow"`
}

// SniperBotConfig configures the launch sniper detector
type SniperBotConfig struct {
	LaunchWindow    time.Duration `mapstructure:"launch_window"`
	MinEarlyBuyers  int           `mapstructure:"min_early_buyers"`
	MinSellerRatio  float64       `mapstructure:"min_seller_ratio"`
	ConfidenceScale float64       `mapstructure:"confidence_scale"`
}

// CircularFlowConfig configures the cycle detector
type CircularFlowConfig struct {
	MaxPathLength int     `mapstructure:"max_path_length"`
	HighVolume    float64 `mapstructure:"high_volume"`
	MaxResults    int     `mapstructure:"max_results"`
}

// PingPongConfig configures the bidirectional pair detector
type PingPongConfig struct {
	MinTransfers          int     `mapstructure:"min_transfers"`
	BaseConfidence        float64 `mapstructure:"base_confidence"`
	ConfidencePerTransfer float64 `mapstructure:"confidence_per_transfer"`
}

// BotFarmConfig configures the timing regularity detector
type BotFarmConfig struct {
	MaxGap               time.Duration `mapstructure:"max_gap"`
	MinConsecutiveGaps   int           `mapstructure:"min_consecutive_gaps"`
	MinTransfersForRatio int           `mapstructure:"min_transfers_for_ratio"`
	MinFastGapRatio      float64       `mapstructure:"min_fast_gap_ratio"`
	MinBots              int           `mapstructure:"min_bots"`
	BaseConfidence       float64       `mapstructure:"base_confidence"`
	ConfidencePerBot     float64       `mapstructure:"confidence_per_bot"`
}

// ScorerConfig configures point weights, structural bonuses, blending and verdict thresholds
type ScorerConfig struct {
	StarDumpWeight           float64 `mapstructure:"star_dump_weight"`
	CoordinatedClusterWeight float64 `mapstructure:"coordinated_cluster_weight"`
	LPDrainWeight            float64 `mapstructure:"lp_drain_weight"`
	BridgeWalletWeight       float64 `mapstructure:"bridge_wallet_weight"`
	SniperBotWeight          float64 `mapstructure:"sniper_bot_weight"`

	CircularFlowPoints float64 `mapstructure:"circular_flow_points"`
	PingPongPoints     float64 `mapstructure:"ping_pong_points"`
	BotFarmPoints      float64 `mapstructure:"bot_farm_points"`
	WashTradingCap     float64 `mapstructure:"wash_trading_cap"`

	CentralizationBonus          float64 `mapstructure:"centralization_bonus"`
	CentralizationMaxCoefficient float64 `mapstructure:"centralization_max_coefficient"`
	CentralizationMaxEdges       int     `mapstructure:"centralization_max_edges"`
	WashStructureBonus           float64 `mapstructure:"wash_structure_bonus"`
	WashStructureMaxNodes        int     `mapstructure:"wash_structure_max_nodes"`
	WashStructureMinEdges        int     `mapstructure:"wash_structure_min_edges"`
	DominanceBonus               float64 `mapstructure:"dominance_bonus"`
	DominanceMinShare            float64 `mapstructure:"dominance_min_share"`

	TemporalWeight  float64 `mapstructure:"temporal_weight"`
	HeuristicWeight float64 `mapstructure:"heuristic_weight"`

	PostMigrationPassSafety float64 `mapstructure:"post_migration_pass_safety"`
	PostMigrationRejectRisk float64 `mapstructure:"post_migration_reject_risk"`
	PreMigrationPassSafety  float64 `mapstructure:"pre_migration_pass_safety"`
}

// DefaultEngineConfig returns the production defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Enabled:                true,
		WindowCapacity:         12,
		MinTransactions:        20,
		DetectorTimeout:        300 * time.Millisecond,
		MaxConcurrentDetectors: 8,
		StarDump: StarDumpConfig{
			MinDrainRatio:    0.85,
			MinRecipients:    3,
			MinOutboundEdges: 5,
			RecipientScale:   10,
		},
		CoordinatedCluster: CoordinatedClusterConfig{
			Bucket:          100 * time.Millisecond,
			MinSources:      5,
			MaxSources:      15,
			MinSellRatio:    0.8,
			ConfidenceScale: 0.9,
		},
		BridgeWallet: BridgeWalletConfig{
			MaxLifetime:     5 * time.Minute,
			MinOutflowRatio: 0.9,
			MaxTransfers:    3,
			MinWallets:      2,
			ConfidenceScale: 0.85,
			WalletScale:     10,
		},
		LPDrain: LPDrainConfig{
			MinOutflowRatio: 0.8,
			MinOutflow:      1000,
		},
		SniperBot: SniperBotConfig{
			LaunchWindow:    5 * time.Second,
			MinEarlyBuyers:  3,
			MinSellerRatio:  0.7,
			ConfidenceScale: 0.8,
		},
		CircularFlow: CircularFlowConfig{
			MaxPathLength: 5,
			HighVolume:    100,
			MaxResults:    10,
		},
		PingPong: PingPongConfig{
			MinTransfers:          3,
			BaseConfidence:        0.5,
			ConfidencePerTransfer: 0.05,
		},
		BotFarm: BotFarmConfig{
			MaxGap:               5 * time.Second,
			MinConsecutiveGaps:   3,
			MinTransfersForRatio: 10,
			MinFastGapRatio:      0.3,
			MinBots:              2,
			BaseConfidence:       0.5,
			ConfidencePerBot:     0.1,
		},
		Scorer: ScorerConfig{
			StarDumpWeight:           25,
			CoordinatedClusterWeight: 20,
			LPDrainWeight:            30,
			BridgeWalletWeight:       15,
			SniperBotWeight:          10,

			CircularFlowPoints: 15,
			PingPongPoints:     10,
			BotFarmPoints:      20,
			WashTradingCap:     40,

			CentralizationBonus:          10,
			CentralizationMaxCoefficient: 0.1,
			CentralizationMaxEdges:       50,
			WashStructureBonus:           8,
			WashStructureMaxNodes:        10,
			WashStructureMinEdges:        20,
			DominanceBonus:               12,
			DominanceMinShare:            0.5,

			TemporalWeight:  0.70,
			HeuristicWeight: 0.30,

			PostMigrationPassSafety: 0.80,
			PostMigrationRejectRisk: 0.25,
			PreMigrationPassSafety:  0.60,
		},
	}
}

// Validate checks that the configuration values are usable
func (c EngineConfig) Validate() error {
	if c.WindowCapacity < 1 {
		return fmt.Errorf("detection.window_capacity must be at least 1")
	}
	if c.MinTransactions < 0 {
		return fmt.Errorf("detection.min_transactions must not be negative")
	}
	if c.DetectorTimeout < 0 {
		return fmt.Errorf("detection.detector_timeout must not be negative")
	}
	if c.CoordinatedCluster.Bucket <= 0 {
		return fmt.Errorf("detection.coordinated_cluster.bucket must be positive")
	}
	if c.CoordinatedCluster.MinSources > c.CoordinatedCluster.MaxSources {
		return fmt.Errorf("detection.coordinated_cluster.min_sources must not exceed max_sources")
	}
	if c.CircularFlow.MaxPathLength < 3 {
		return fmt.Errorf("detection.circular_flow.max_path_length must be at least 3")
	}
	if c.StarDump.RecipientScale <= 0 {
		return fmt.Errorf("detection.star_dump.recipient_scale must be positive")
	}
	if c.BridgeWallet.WalletScale <= 0 {
		return fmt.Errorf("detection.bridge_wallet.wallet_scale must be positive")
	}

	s := c.Scorer
	if s.TemporalWeight < 0 || s.HeuristicWeight < 0 {
		return fmt.Errorf("detection.scorer weights must not be negative")
	}
	if sum := s.TemporalWeight + s.HeuristicWeight; sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("detection.scorer.temporal_weight + heuristic_weight must equal 1.0, got %.3f", sum)
	}
	for name, v := range map[string]float64{
		"post_migration_pass_safety": s.PostMigrationPassSafety,
		"post_migration_reject_risk": s.PostMigrationRejectRisk,
		"pre_migration_pass_safety":  s.PreMigrationPassSafety,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("detection.scorer.%s must be between 0.0 and 1.0", name)
		}
	}
	return nil
}
