package database

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap/zaptest"
)

func testSnapshot() *entity.Snapshot {
	nodes := map[string]entity.Node{
		"A": {Address: "A", FirstSeen: 100, LastSeen: 300},
		"B": {Address: "B", FirstSeen: 100, LastSeen: 300},
		"C": {Address: "C", FirstSeen: 200, LastSeen: 200},
	}
	edges := []entity.Edge{
		{From: "B", To: "C", Amount: 5, TimestampMs: 200, Kind: entity.TransferKindTransfer},
		{From: "A", To: "B", Amount: 1, TimestampMs: 300, Kind: entity.TransferKindSell},
		{From: "A", To: "B", Amount: 2, TimestampMs: 100, Kind: entity.TransferKindTransfer},
		{From: "A", To: "B", Amount: 3, TimestampMs: 150, Kind: entity.TransferKindTransfer},
	}
	return entity.NewSnapshot(400, nodes, edges)
}

func TestAggregateFlowsCollapsesParallelEdges(t *testing.T) {
	flows := aggregateFlows(testSnapshot())
	if len(flows) != 2 {
		t.Fatalf("flows = %d, want 2", len(flows))
	}

	ab := flows[0]
	if ab.from != "A" || ab.to != "B" {
		t.Fatalf("first flow = %s->%s, want A->B", ab.from, ab.to)
	}
	if ab.count != 3 || ab.volume != 6 {
		t.Errorf("A->B count=%d volume=%v, want 3 and 6", ab.count, ab.volume)
	}
	if ab.firstTs != 100 || ab.lastTs != 300 {
		t.Errorf("A->B span = [%d, %d], want [100, 300]", ab.firstTs, ab.lastTs)
	}
	if !reflect.DeepEqual(ab.kinds, []string{"sell", "transfer"}) {
		t.Errorf("A->B kinds = %v", ab.kinds)
	}

	if flows[1].from != "B" || flows[1].count != 1 {
		t.Errorf("second flow = %+v", flows[1])
	}
}

func TestDecisionParams(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := &entity.DecisionRecord{
		ID:         "d-1",
		AnalyzedAt: at,
		Source:     "session",
		Decision: &entity.RiskDecision{
			TokenMint:      "MINT",
			Status:         entity.DecisionStatusScored,
			Verdict:        entity.VerdictReject,
			RugProbability: 0.6,
			EventCount:     42,
			Findings: []entity.Finding{
				{Type: entity.FindingPingPong, Confidence: 0.6},
				{Type: entity.FindingStarDump, Confidence: 0.9},
				{Type: entity.FindingPingPong, Confidence: 0.7},
			},
		},
	}

	params, err := decisionParams(record)
	if err != nil {
		t.Fatalf("decisionParams failed: %v", err)
	}
	if params["analyzed_at"] != "2024-03-01T12:00:00Z" {
		t.Errorf("analyzed_at = %v", params["analyzed_at"])
	}
	if !reflect.DeepEqual(params["finding_types"], []string{"star_dump", "ping_pong"}) {
		t.Errorf("finding_types = %v", params["finding_types"])
	}
	if !reflect.DeepEqual(params["risk_factors"], []string{}) {
		t.Errorf("nil risk factors should be stored as an empty list, got %v", params["risk_factors"])
	}

	var decoded entity.RiskDecision
	if err := json.Unmarshal([]byte(params["payload"].(string)), &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.TokenMint != "MINT" || len(decoded.Findings) != 3 {
		t.Errorf("payload round trip lost data: %+v", decoded)
	}

	if _, err := decisionParams(&entity.DecisionRecord{}); err == nil {
		t.Error("expected error for record without decision")
	}
}

func TestFlaggedParams(t *testing.T) {
	decision := &entity.RiskDecision{
		TokenMint: "MINT",
		Findings: []entity.Finding{
			{Type: entity.FindingStarDump, Confidence: 0.5, Wallets: []string{"W2", "W1"}},
			{Type: entity.FindingPingPong, Confidence: 0.8, Wallets: []string{"W1"}},
		},
	}
	params := flaggedParams(decision.FlaggedWallets(time.Now()))
	if len(params) != 2 {
		t.Fatalf("flagged = %d, want 2", len(params))
	}
	if params[0]["address"] != "W1" || params[0]["max_confidence"] != 0.8 {
		t.Errorf("W1 params = %v", params[0])
	}
	if !reflect.DeepEqual(params[0]["finding_types"], []string{"star_dump", "ping_pong"}) {
		t.Errorf("W1 types = %v", params[0]["finding_types"])
	}
}

func TestRepositoriesAreNoopsWhenDisabled(t *testing.T) {
	log := &logger.Logger{Logger: zaptest.NewLogger(t)}
	client := NewNeo4JClient(&config.Neo4JConfig{Enabled: false}, log)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect on disabled client: %v", err)
	}
	if client.Available() {
		t.Fatal("disabled client must not be available")
	}

	ctx := context.Background()
	record := &entity.DecisionRecord{ID: "d", Decision: &entity.RiskDecision{TokenMint: "MINT"}}

	decisions := NewNeo4JDecisionRepository(client, log)
	if err := decisions.SaveDecision(ctx, record); err != nil {
		t.Errorf("SaveDecision: %v", err)
	}
	if got, err := decisions.GetRecentDecisions(ctx, "MINT", 5); err != nil || got != nil {
		t.Errorf("GetRecentDecisions = %v, %v", got, err)
	}

	wallets := NewNeo4JWalletRepository(client, log)
	if err := wallets.SaveSnapshotFlows(ctx, "MINT", testSnapshot()); err != nil {
		t.Errorf("SaveSnapshotFlows: %v", err)
	}
	if err := wallets.FlagWallets(ctx, record); err != nil {
		t.Errorf("FlagWallets: %v", err)
	}
	if got, err := wallets.GetFlaggedWallets(ctx, "MINT", 5); err != nil || got != nil {
		t.Errorf("GetFlaggedWallets = %v, %v", got, err)
	}
}

func TestRecordValueAccessors(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := &neo4j.Record{
		Keys:   []string{"s", "f", "i", "t", "l", "nil"},
		Values: []interface{}{"x", 0.5, int64(3), at, []interface{}{"a", int64(1), "b"}, nil},
	}
	if stringValue(rec, "s") != "x" || stringValue(rec, "missing") != "" || stringValue(rec, "nil") != "" {
		t.Error("stringValue mismatch")
	}
	if floatValue(rec, "f") != 0.5 || floatValue(rec, "i") != 3 || floatValue(rec, "s") != 0 {
		t.Error("floatValue mismatch")
	}
	if !timeValue(rec, "t").Equal(at) || !timeValue(rec, "nil").IsZero() {
		t.Error("timeValue mismatch")
	}
	if !reflect.DeepEqual(stringsValue(rec, "l"), []string{"a", "b"}) {
		t.Errorf("stringsValue = %v", stringsValue(rec, "l"))
	}
}
