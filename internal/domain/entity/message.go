package entity

// TransferMessage represents a parsed token transfer as published by the event relay on NATS
type TransferMessage struct {
	Signature   string `json:"signature"`
	Slot        uint64 `json:"slot,omitempty"`
	TokenMint   string `json:"mint"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`   // raw integer amount in base units
	Decimals    int32  `json:"decimals"` // token decimals used to scale Amount
	TimestampMs int64  `json:"timestamp_ms"`
	BlockTime   int64  `json:"block_time,omitempty"` // unix seconds, used when TimestampMs is absent
	Pool        string `json:"pool,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ControlAction names a session lifecycle command
type ControlAction string

const (
	ControlActionStart ControlAction = "start"
	ControlActionStop  ControlAction = "stop"
)

// ControlMessage starts, updates or stops monitoring of a token
type ControlMessage struct {
	Action          ControlAction `json:"action"`
	TokenMint       string        `json:"mint"`
	Pool            string        `json:"pool,omitempty"`
	PreMigration    bool          `json:"pre_migration"`
	HeuristicSafety *float64      `json:"heuristic_safety,omitempty"`
}
