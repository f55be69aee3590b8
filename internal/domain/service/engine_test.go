package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubDetector struct {
	name     string
	findings []entity.Finding
	err      error
	panicMsg string
	delay    time.Duration
}

func (d *stubDetector) Name() string { return d.name }

func (d *stubDetector) Detect(ctx context.Context, _ *entity.Snapshot, _ []*entity.Snapshot) ([]entity.Finding, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.findings, d.err
}

type recordingObserver struct {
	mu        sync.Mutex
	skipped   map[string]int
	runs      map[string]error
	decisions int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{skipped: make(map[string]int), runs: make(map[string]error)}
}

func (o *recordingObserver) ObserveSkippedEvent(reason string, count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped[reason] += count
}

func (o *recordingObserver) ObserveDetectorRun(detector string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[detector] = err
}

func (o *recordingObserver) ObserveDecision(*entity.RiskDecision, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decisions++
}

func TestEngineStarDumpScenario(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MinTransactions = 10
	engine := newTestEngine(t, cfg)

	decision := engine.Analyze(context.Background(), testMint, nil, starDumpScenario(testNow-600_000), nil, 0.25, false)

	if decision.Status != entity.DecisionStatusScored {
		t.Fatalf("status = %s, want scored", decision.Status)
	}
	stars := decision.FindingsOf(entity.FindingStarDump)
	if len(stars) != 1 {
		t.Fatalf("expected a star_dump finding, got %+v", decision.Findings)
	}
	if stars[0].Confidence <= 0.7 {
		t.Errorf("star_dump confidence = %f, want > 0.7", stars[0].Confidence)
	}
	if decision.RugProbability <= 0.5 {
		t.Errorf("rug probability = %f, want > 0.5", decision.RugProbability)
	}
	if decision.Verdict != entity.VerdictReject {
		t.Errorf("verdict = %s, want reject", decision.Verdict)
	}
	if !decision.TemporalRan || len(decision.FailedDetectors) != 0 {
		t.Errorf("expected all detectors to run, failed: %v", decision.FailedDetectors)
	}
	if decision.GraphMetrics.NodeCount != 19 || decision.GraphMetrics.EdgeCount != 18 {
		t.Errorf("graph metrics = %+v", decision.GraphMetrics)
	}
}

func TestEngineIsDeterministic(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MinTransactions = 10
	engine := newTestEngine(t, cfg)

	events := append(starDumpScenario(testNow-900_000), cleanEvents(testNow-300_000, 20)...)
	first := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.6, false)
	for i := 0; i < 5; i++ {
		again := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.6, false)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
}

func TestEngineStarDumpIsMonotonic(t *testing.T) {
	engine := newTestEngine(t, testEngineConfig())
	clean := cleanEvents(testNow-1_200_000, 60)

	baseline := engine.Analyze(context.Background(), testMint, nil, clean, nil, 0.9, false)
	if baseline.Status != entity.DecisionStatusScored {
		t.Fatalf("baseline status = %s", baseline.Status)
	}

	withDump := append(append([]entity.TransferEvent(nil), clean...), starDumpScenario(testNow-600_000)...)
	dumped := engine.Analyze(context.Background(), testMint, nil, withDump, nil, 0.9, false)

	if dumped.RugProbability < baseline.RugProbability {
		t.Errorf("rug probability decreased: %f -> %f", baseline.RugProbability, dumped.RugProbability)
	}
	if !dumped.HasFinding(entity.FindingStarDump) {
		t.Errorf("expected star_dump finding after adding the dump")
	}
}

func TestEngineInsufficientDataBoundary(t *testing.T) {
	cfg := testEngineConfig()
	engine := newTestEngine(t, cfg)

	below := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-600_000, cfg.MinTransactions-1), nil, 0.9, false)
	if below.Status != entity.DecisionStatusInsufficientData {
		t.Fatalf("status = %s, want insufficient_data", below.Status)
	}
	if below.RugProbability != 0 || below.Verdict != entity.VerdictMarginal {
		t.Errorf("insufficient decision = %+v", below)
	}
	if !reflect.DeepEqual(below.RiskFactors, []string{entity.RiskFactorInsufficientData}) {
		t.Errorf("risk factors = %v", below.RiskFactors)
	}

	exact := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-600_000, cfg.MinTransactions), nil, 0.9, false)
	if exact.Status != entity.DecisionStatusScored {
		t.Errorf("status = %s, want scored", exact.Status)
	}
}

func TestEngineEmptyEventsAreInsufficient(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MinTransactions = 0
	engine := newTestEngine(t, cfg)
	window := engine.NewWindow()

	decision := engine.Analyze(context.Background(), testMint, nil, nil, window, 0.9, false)
	if decision.Status != entity.DecisionStatusInsufficientData {
		t.Fatalf("status = %s, want insufficient_data", decision.Status)
	}
	if window.Len() != 0 {
		t.Errorf("empty snapshot must not enter the window")
	}
}

func TestEngineMalformedEventsDoNotCount(t *testing.T) {
	cfg := testEngineConfig()
	observer := newRecordingObserver()
	engine := newTestEngine(t, cfg, WithObserver(observer))

	events := cleanEvents(testNow-600_000, cfg.MinTransactions-1)
	events = append(events, transfer("X", "X", 1, testNow-1000))

	decision := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.9, false)
	if decision.Status != entity.DecisionStatusInsufficientData {
		t.Errorf("status = %s, want insufficient_data", decision.Status)
	}
	if decision.SkippedEvents != 1 || observer.skipped["self_transfer"] != 1 {
		t.Errorf("skipped = %d, observer = %v", decision.SkippedEvents, observer.skipped)
	}
}

func TestEngineDetectorIsolation(t *testing.T) {
	good := &stubDetector{
		name:     "good",
		findings: []entity.Finding{{Type: entity.FindingLPDrain, Confidence: 0.9, Description: "drain", Wallets: []string{"W"}}},
	}
	observer := newRecordingObserver()
	engine := newTestEngine(t, testEngineConfig(),
		WithObserver(observer),
		WithDetectors(
			&stubDetector{name: "broken", err: errors.New("boom")},
			good,
			&stubDetector{name: "panicky", panicMsg: "index out of range"},
		))

	decision := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-600_000, 30), nil, 0.9, false)

	if !decision.TemporalRan {
		t.Fatal("temporal layer should count as ran when one detector succeeds")
	}
	if len(decision.Findings) != 1 || decision.Findings[0].Description != "drain" {
		t.Errorf("findings = %+v", decision.Findings)
	}
	if !reflect.DeepEqual(decision.FailedDetectors, []string{"broken", "panicky"}) {
		t.Errorf("failed detectors = %v", decision.FailedDetectors)
	}
	var detErr *DetectorError
	if !errors.As(observer.runs["panicky"], &detErr) || detErr.Detector != "panicky" {
		t.Errorf("panic not reported as DetectorError: %v", observer.runs["panicky"])
	}
	if observer.runs["good"] != nil {
		t.Errorf("good detector reported error %v", observer.runs["good"])
	}
}

func TestEngineAllDetectorsFailedFallsBackToHeuristic(t *testing.T) {
	engine := newTestEngine(t, testEngineConfig(),
		WithDetectors(&stubDetector{name: "broken", err: errors.New("boom")}))

	decision := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-600_000, 30), nil, 0.85, false)
	if decision.TemporalRan {
		t.Fatal("temporal layer should not count as ran")
	}
	if decision.FinalSafety != 0.85 || decision.Verdict != entity.VerdictPass {
		t.Errorf("final safety/verdict = %f/%s", decision.FinalSafety, decision.Verdict)
	}
	if !reflect.DeepEqual(decision.RiskFactors, []string{entity.RiskFactorDetectorsFailed}) {
		t.Errorf("risk factors = %v", decision.RiskFactors)
	}
}

func TestEngineDetectorTimeout(t *testing.T) {
	cfg := testEngineConfig()
	cfg.DetectorTimeout = 20 * time.Millisecond
	observer := newRecordingObserver()
	engine := newTestEngine(t, cfg,
		WithObserver(observer),
		WithDetectors(
			&stubDetector{name: "slow", delay: 5 * time.Second},
			&stubDetector{name: "fast"},
		))

	start := time.Now()
	decision := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-600_000, 30), nil, 0.9, false)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("analysis blocked on slow detector for %s", elapsed)
	}
	if !reflect.DeepEqual(decision.FailedDetectors, []string{"slow"}) {
		t.Errorf("failed detectors = %v", decision.FailedDetectors)
	}
	if !errors.Is(observer.runs["slow"], ErrDetectorTimeout) {
		t.Errorf("slow detector error = %v, want timeout", observer.runs["slow"])
	}
}

func TestEngineDisabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Enabled = false
	engine := newTestEngine(t, cfg)
	window := engine.NewWindow()

	decision := engine.Analyze(context.Background(), testMint, nil, starDumpScenario(testNow-600_000), window, 0.7, true)
	if decision.Status != entity.DecisionStatusDisabled {
		t.Fatalf("status = %s, want disabled", decision.Status)
	}
	if decision.FinalSafety != 0.7 || decision.Verdict != entity.VerdictPass {
		t.Errorf("final safety/verdict = %f/%s", decision.FinalSafety, decision.Verdict)
	}
	if len(decision.Findings) != 0 || window.Len() != 0 {
		t.Errorf("disabled engine must not run detectors or touch the window")
	}
}

func TestEngineMigrationRegimes(t *testing.T) {
	engine := newTestEngine(t, testEngineConfig(), WithDetectors(&stubDetector{name: "quiet"}))
	events := cleanEvents(testNow-600_000, 30)

	// a sparse clean graph only earns the centralization bonus: 0.7*0.9 + 0.3*0.5 = 0.78
	pre := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.5, true)
	post := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.5, false)
	if pre.FinalSafety != post.FinalSafety {
		t.Fatalf("regime changed final safety: %f vs %f", pre.FinalSafety, post.FinalSafety)
	}

	low := engine.Analyze(context.Background(), testMint, nil, events, nil, 0.0, false)
	if low.Verdict != entity.VerdictReject && low.Verdict != entity.VerdictMarginal {
		t.Errorf("post-migration verdict at safety %f = %s", low.FinalSafety, low.Verdict)
	}
}

func TestEngineWindowCarriesHistory(t *testing.T) {
	cfg := testEngineConfig()
	cfg.MinTransactions = 1
	cfg.WindowCapacity = 3
	engine := newTestEngine(t, cfg)
	window := engine.NewWindow()

	for i := 0; i < 5; i++ {
		engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-int64(10-i)*60_000, 2), window, 0.9, false)
	}
	if window.Len() != 3 || window.Pushed() != 5 {
		t.Errorf("window len/pushed = %d/%d, want 3/5", window.Len(), window.Pushed())
	}
}

func TestEngineHonoursCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := newTestEngine(t, testEngineConfig())

	decision := engine.Analyze(ctx, testMint, nil, starDumpScenario(testNow-600_000), nil, 0.4, false)
	if decision == nil {
		t.Fatal("Analyze must always return a decision")
	}
	if decision.TemporalRan {
		t.Errorf("no detector should succeed under a cancelled context")
	}
}

// hubAndSpokes: five spokes each send HUB nine transfers, one a minute
func hubAndSpokes(base int64) []entity.TransferEvent {
	var events []entity.TransferEvent
	for j := 0; j < 9; j++ {
		for i := 0; i < 5; i++ {
			events = append(events, transfer(wallet("spoke", i), "HUB", 1, base+int64(j*5+i)*60_000))
		}
	}
	return events
}

func TestEngineStarDumpIsMonotonicOnDenseBaseline(t *testing.T) {
	engine := newTestEngine(t, testEngineConfig())
	base := testNow - 3_600_000
	clean := hubAndSpokes(base)

	baseline := engine.Analyze(context.Background(), testMint, nil, clean, nil, 0.9, false)
	if baseline.Status != entity.DecisionStatusScored || len(baseline.Findings) != 0 {
		t.Fatalf("baseline status=%s findings=%+v", baseline.Status, baseline.Findings)
	}
	// six wallets and 45 edges earn both the centralization and wash-structure bonuses
	if m := baseline.GraphMetrics; m.NodeCount != 6 || m.EdgeCount != 45 {
		t.Fatalf("baseline metrics = %+v", m)
	}

	withDump := append([]entity.TransferEvent(nil), clean...)
	for i := 0; i < 5; i++ {
		withDump = append(withDump, transfer("DUMPER", wallet("fresh", i), 1, testNow-60_000+int64(i)*200))
	}
	dumped := engine.Analyze(context.Background(), testMint, nil, withDump, nil, 0.9, false)

	if !dumped.HasFinding(entity.FindingStarDump) {
		t.Fatalf("expected a star_dump finding, got %+v", dumped.Findings)
	}
	if m := dumped.GraphMetrics; m.NodeCount < 10 || m.EdgeCount < 50 {
		t.Fatalf("dump should push the graph past both bonus limits, got %+v", m)
	}
	if dumped.RugProbability < baseline.RugProbability {
		t.Errorf("rug probability decreased: %f -> %f", baseline.RugProbability, dumped.RugProbability)
	}
}

// lingeringDetector ignores its budget and reads the history only after it expired
type lingeringDetector struct {
	sleep time.Duration
	done  chan struct{}

	mu   sync.Mutex
	seen []int
}

func (d *lingeringDetector) Name() string { return "lingering" }

func (d *lingeringDetector) Detect(_ context.Context, _ *entity.Snapshot, history []*entity.Snapshot) ([]entity.Finding, error) {
	defer func() { d.done <- struct{}{} }()
	time.Sleep(d.sleep)

	for _, s := range history {
		_ = s.Edges()
	}
	d.mu.Lock()
	d.seen = append(d.seen, len(history))
	d.mu.Unlock()
	return nil, nil
}

func TestEngineTimedOutDetectorSeesFrozenHistory(t *testing.T) {
	const runs = 20
	cfg := testEngineConfig()
	cfg.MinTransactions = 1
	cfg.WindowCapacity = 4
	cfg.DetectorTimeout = 5 * time.Millisecond

	d := &lingeringDetector{sleep: 30 * time.Millisecond, done: make(chan struct{}, runs)}
	engine := newTestEngine(t, cfg, WithDetectors(d))
	window := engine.NewWindow()

	for i := 0; i < runs; i++ {
		decision := engine.Analyze(context.Background(), testMint, nil, cleanEvents(testNow-int64(runs-i)*60_000, 2), window, 0.9, false)
		if !reflect.DeepEqual(decision.FailedDetectors, []string{"lingering"}) {
			t.Fatalf("run %d: failed detectors = %v", i, decision.FailedDetectors)
		}
	}
	for i := 0; i < runs; i++ {
		select {
		case <-d.done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for lingering detectors")
		}
	}

	// each run sees the history as it was when it started, however late it reads it
	want := make([]int, 0, runs)
	for i := 0; i < runs; i++ {
		want = append(want, min(i, cfg.WindowCapacity))
	}
	d.mu.Lock()
	got := append([]int(nil), d.seen...)
	d.mu.Unlock()
	sort.Ints(got)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("history lengths seen = %v, want %v", got, want)
	}
}
