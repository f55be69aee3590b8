package service

import "testing"

func TestDefaultEngineConfigIsValid(t *testing.T) {
	if err := DefaultEngineConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*EngineConfig)
	}{
		{"zero window", func(c *EngineConfig) { c.WindowCapacity = 0 }},
		{"negative min transactions", func(c *EngineConfig) { c.MinTransactions = -1 }},
		{"zero bucket", func(c *EngineConfig) { c.CoordinatedCluster.Bucket = 0 }},
		{"inverted sources", func(c *EngineConfig) { c.CoordinatedCluster.MinSources = 20 }},
		{"short cycles", func(c *EngineConfig) { c.CircularFlow.MaxPathLength = 2 }},
		{"zero bridge wallet scale", func(c *EngineConfig) { c.BridgeWallet.WalletScale = 0 }},
		{"unbalanced blend", func(c *EngineConfig) { c.Scorer.TemporalWeight = 0.9 }},
		{"pass threshold above one", func(c *EngineConfig) { c.Scorer.PreMigrationPassSafety = 1.2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
