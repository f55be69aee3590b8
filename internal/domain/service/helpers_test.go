package service

import (
	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/infrastructure/logger"
	"fmt"
	"testing"
	"time"
)

const (
	testMint = "MintTest1111111111111111111111111111111111"
	testNow  = int64(1_700_000_000_000)
)

func transfer(from, to string, amount float64, ts int64) entity.TransferEvent {
	return entity.TransferEvent{
		TokenMint:   testMint,
		From:        from,
		To:          to,
		Amount:      amount,
		TimestampMs: ts,
		Kind:        entity.TransferKindTransfer,
	}
}

func withKind(ev entity.TransferEvent, kind entity.TransferKind) entity.TransferEvent {
	ev.Kind = kind
	return ev
}

func wallet(prefix string, i int) string {
	return fmt.Sprintf("%s%02d", prefix, i)
}

// starDumpScenario: W0 collects 1.0 from each of 10 buyers, 30s apart, then
// splits 9.5 across 8 fresh wallets 250ms apart.
func starDumpScenario(base int64) []entity.TransferEvent {
	var events []entity.TransferEvent
	ts := base
	for i := 0; i < 10; i++ {
		events = append(events, transfer(wallet("buyer", i), "W0", 1.0, ts))
		ts += 30_000
	}
	for i := 0; i < 8; i++ {
		events = append(events, transfer("W0", wallet("dump", i), 9.5/8, ts))
		ts += 250
	}
	return events
}

// cleanEvents: n unrelated sender/receiver pairs, 10s apart
func cleanEvents(base int64, n int) []entity.TransferEvent {
	events := make([]entity.TransferEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, transfer(wallet("sender", i), wallet("receiver", i), 5, base+int64(i)*10_000))
	}
	return events
}

func testEngineConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.DetectorTimeout = 2 * time.Second
	return cfg
}

func newTestEngine(t *testing.T, cfg EngineConfig, opts ...EngineOption) *Engine {
	t.Helper()
	opts = append([]EngineOption{WithClock(func() int64 { return testNow })}, opts...)
	return NewEngine(cfg, logger.NewNopLogger(), opts...)
}

func mustSnapshot(t *testing.T, events []entity.TransferEvent) *entity.Snapshot {
	t.Helper()
	snap, stats := BuildSnapshot(testMint, "", testNow, events)
	if stats.Skipped != 0 {
		t.Fatalf("unexpected skipped events: %v", stats.Reasons)
	}
	return snap
}
