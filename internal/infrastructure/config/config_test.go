package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "app:\n  env: test\n"))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.App.Env != "test" {
		t.Errorf("app.env = %q, want test", cfg.App.Env)
	}
	if cfg.NATS.DecisionSubject != "rug.decisions" {
		t.Errorf("nats.decision_subject = %q", cfg.NATS.DecisionSubject)
	}

	d := cfg.Detection
	if !d.Enabled || d.WindowCapacity != 12 || d.MinTransactions != 20 {
		t.Errorf("detection core defaults = %+v", d)
	}
	if d.CoordinatedCluster.Bucket != 100*time.Millisecond {
		t.Errorf("bucket = %s, want 100ms", d.CoordinatedCluster.Bucket)
	}
	if d.Scorer.TemporalWeight != 0.70 || d.Scorer.HeuristicWeight != 0.30 {
		t.Errorf("blend = %.2f/%.2f", d.Scorer.TemporalWeight, d.Scorer.HeuristicWeight)
	}
	if d.Scorer.PostMigrationPassSafety != 0.80 || d.Scorer.PreMigrationPassSafety != 0.60 {
		t.Errorf("pass thresholds = %.2f/%.2f", d.Scorer.PostMigrationPassSafety, d.Scorer.PreMigrationPassSafety)
	}
}

func TestLoadOverridesDetection(t *testing.T) {
	content := `
detection:
  enabled: false
  window_capacity: 6
  detector_timeout: 150ms
  star_dump:
    min_recipients: 4
  ping_pong:
    confidence_per_transfer: 0.1
  scorer:
    temporal_weight: 0.6
    heuristic_weight: 0.4
    pre_migration_pass_safety: 0.55
`
	cfg, err := LoadFile(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	d := cfg.Detection
	if d.Enabled {
		t.Error("detection should be disabled")
	}
	if d.WindowCapacity != 6 || d.DetectorTimeout != 150*time.Millisecond {
		t.Errorf("window/timeout = %d/%s", d.WindowCapacity, d.DetectorTimeout)
	}
	if d.StarDump.MinRecipients != 4 || d.StarDump.MinOutboundEdges != 5 {
		t.Errorf("star dump = %+v", d.StarDump)
	}
	if d.PingPong.ConfidencePerTransfer != 0.1 || d.PingPong.BaseConfidence != 0.5 {
		t.Errorf("ping pong = %+v", d.PingPong)
	}
	if d.BotFarm.ConfidencePerBot != 0.1 || d.BridgeWallet.WalletScale != 10 {
		t.Errorf("bot farm = %+v, bridge wallet = %+v", d.BotFarm, d.BridgeWallet)
	}
	if d.Scorer.TemporalWeight != 0.6 || d.Scorer.PreMigrationPassSafety != 0.55 {
		t.Errorf("scorer = %+v", d.Scorer)
	}
	// untouched keys keep their defaults
	if d.Scorer.LPDrainWeight != 30 {
		t.Errorf("lp drain weight = %f, want 30", d.Scorer.LPDrainWeight)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unbalanced blend", "detection:\n  scorer:\n    temporal_weight: 0.9\n"},
		{"zero window", "detection:\n  window_capacity: 0\n"},
		{"telegram without token", "telegram:\n  enabled: true\n  chat_id: \"42\"\n"},
		{"heuristic out of range", "app:\n  default_heuristic_safety: 1.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
