package entity

// FindingType identifies the pattern a detector observed
type FindingType string

const (
	FindingStarDump           FindingType = "star_dump"           // one wallet fanning out received funds
	FindingCoordinatedCluster FindingType = "coordinated_cluster" // many wallets selling in the same instant
	FindingBridgeWallet       FindingType = "bridge_wallet"       // short-lived pass-through wallets
	FindingLPDrain            FindingType = "lp_drain"            // large one-directional outflow
	FindingSniperBot          FindingType = "sniper_bot"          // launch buyers that later sold
	FindingCircularFlow       FindingType = "circular_flow"       // funds returning to their origin
	FindingPingPong           FindingType = "ping_pong"           // two wallets bouncing transfers
	FindingBotFarm            FindingType = "bot_farm"            // machine-paced transfer timing
)

// AllFindingTypes lists every finding type in a stable order
var AllFindingTypes = []FindingType{
	FindingStarDump,
	FindingCoordinatedCluster,
	FindingBridgeWallet,
	FindingLPDrain,
	FindingSniperBot,
	FindingCircularFlow,
	FindingPingPong,
	FindingBotFarm,
}

// IsWashTrading reports whether the finding feeds the wash-trading score path
func (t FindingType) IsWashTrading() bool {
	return t == FindingCircularFlow || t == FindingPingPong || t == FindingBotFarm
}

// Finding is one detector observation about a snapshot
type Finding struct {
	Type        FindingType   `json:"type"`
	Confidence  float64       `json:"confidence"`
	Description string        `json:"description"`
	Wallets     []string      `json:"wallets"`
	Flow        *CircularFlow `json:"flow,omitempty"`
}

// CircularFlow describes a cycle of transfers returning to its start wallet
type CircularFlow struct {
	Path               []string `json:"path"` // Path[0] == Path[len(Path)-1]
	TotalVolume        float64  `json:"total_volume"`
	LoopCount          int      `json:"loop_count"`
	AvgLoopTimeMinutes float64  `json:"avg_loop_time_minutes"`
	Confidence         float64  `json:"confidence"`
}

// ClampConfidence bounds a confidence value to [0, 1]
func ClampConfidence(c float64) float64 {
	if c < 0 || c != c {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
