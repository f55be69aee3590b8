package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/infrastructure/logger"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer receives engine telemetry. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveSkippedEvent(reason string, count int)
	ObserveDetectorRun(detector string, elapsed time.Duration, err error)
	ObserveDecision(decision *entity.RiskDecision, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSkippedEvent(string, int)                     {}
func (nopObserver) ObserveDetectorRun(string, time.Duration, error)     {}
func (nopObserver) ObserveDecision(*entity.RiskDecision, time.Duration) {}

// EngineOption customises an Engine
type EngineOption func(*Engine)

// WithClock overrides the reference time source, in unix milliseconds
func WithClock(clock func() int64) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithDetectors replaces the built-in detector set
func WithDetectors(detectors ...Detector) EngineOption {
	return func(e *Engine) { e.detectors = detectors }
}

// WithObserver attaches a telemetry observer
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		if observer != nil {
			e.observer = observer
		}
	}
}

// Engine runs the detection pipeline: build a snapshot, fan out to the
// detectors, then score. It holds no per-token state and can be shared.
type Engine struct {
	cfg       EngineConfig
	detectors []Detector
	scorer    *Scorer
	observer  Observer
	clock     func() int64
	logger    *logger.Logger
}

// NewEngine creates a detection engine
func NewEngine(cfg EngineConfig, logger *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:       cfg,
		detectors: DefaultDetectors(cfg),
		scorer:    NewScorer(cfg.Scorer),
		observer:  nopObserver{},
		clock:     func() int64 { return time.Now().UnixMilli() },
		logger:    logger.WithComponent("detection-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() EngineConfig { return e.cfg }

// Scorer returns the scorer used for verdicts
func (e *Engine) Scorer() *Scorer { return e.scorer }

// NewWindow creates a window sized for this engine
func (e *Engine) NewWindow() *Window { return NewWindow(e.cfg.WindowCapacity) }

type detectorResult struct {
	findings []entity.Finding
	err      error
}

// Analyze assesses one batch of transfers for a token and always returns a
// decision. On a scored or insufficient-data run the new snapshot is pushed
// onto window, which must belong to the caller's session; a nil window
// analyses the batch in isolation.
func (e *Engine) Analyze(ctx context.Context, tokenMint string, lpPool *string, events []entity.TransferEvent,
	window *Window, heuristicSafety float64, preMigration bool) *entity.RiskDecision {

	start := time.Now()
	heuristicSafety = clamp01(heuristicSafety)

	if !e.cfg.Enabled {
		decision := e.disabledDecision(tokenMint, len(events), heuristicSafety, preMigration)
		e.observer.ObserveDecision(decision, time.Since(start))
		return decision
	}

	pool := ""
	if lpPool != nil {
		pool = *lpPool
	}
	snapshot, stats := BuildSnapshot(tokenMint, pool, e.clock(), events)
	for reason, count := range stats.Reasons {
		e.observer.ObserveSkippedEvent(reason, count)
	}
	if stats.Skipped > 0 {
		e.logger.Warn("Skipped malformed transfer events",
			zap.String("token_mint", tokenMint),
			zap.Int("skipped", stats.Skipped),
			zap.Any("reasons", stats.Reasons))
	}

	var decision *entity.RiskDecision
	if snapshot.IsEmpty() || stats.Accepted < e.cfg.MinTransactions {
		decision = e.insufficientDecision(tokenMint, snapshot, stats, heuristicSafety, preMigration)
	} else {
		decision = e.scoredDecision(ctx, tokenMint, snapshot, window, stats, heuristicSafety, preMigration)
	}

	if window != nil && !snapshot.IsEmpty() {
		window.Push(snapshot)
	}

	e.observer.ObserveDecision(decision, time.Since(start))
	e.logger.Debug("Analysis completed",
		zap.String("token_mint", tokenMint),
		zap.String("status", string(decision.Status)),
		zap.String("verdict", string(decision.Verdict)),
		zap.Float64("rug_probability", decision.RugProbability),
		zap.Int("findings", len(decision.Findings)),
		zap.Duration("duration", time.Since(start)))
	return decision
}

func (e *Engine) scoredDecision(ctx context.Context, tokenMint string, snapshot *entity.Snapshot, window *Window,
	stats IngestStats, heuristicSafety float64, preMigration bool) *entity.RiskDecision {

	// Detectors get a copy of the history: a timed-out detector keeps running
	// after Analyze returns and must never see the window being pushed to.
	history := window.Snapshots()
	results := e.runDetectors(ctx, snapshot, history)

	decision := &entity.RiskDecision{
		TokenMint:       tokenMint,
		Status:          entity.DecisionStatusScored,
		PreMigration:    preMigration,
		Findings:        []entity.Finding{},
		GraphMetrics:    snapshot.Metrics(),
		RiskFactors:     []string{},
		HeuristicSafety: heuristicSafety,
		EventCount:      stats.Accepted,
		SkippedEvents:   stats.Skipped,
		SnapshotTimeMs:  snapshot.TimestampMs(),
	}

	for i, res := range results {
		if res.err != nil {
			decision.FailedDetectors = append(decision.FailedDetectors, e.detectors[i].Name())
			continue
		}
		decision.TemporalRan = true
		decision.Findings = append(decision.Findings, res.findings...)
	}

	if decision.TemporalRan {
		score := e.scorer.Score(decision.Findings, decision.GraphMetrics)
		decision.TemporalSafety = score.Safety
		decision.RiskFactors = append(decision.RiskFactors, score.Factors...)
	} else {
		decision.RiskFactors = append(decision.RiskFactors, entity.RiskFactorDetectorsFailed)
	}

	decision.FinalSafety = e.scorer.Blend(decision.TemporalSafety, heuristicSafety, decision.TemporalRan)
	decision.RugProbability = 1 - decision.FinalSafety
	decision.Verdict = e.scorer.Verdict(decision.FinalSafety, preMigration)
	return decision
}

// runDetectors fans out to every detector and joins on all of them. Results
// are slotted by detector index so output order never depends on scheduling.
func (e *Engine) runDetectors(ctx context.Context, snapshot *entity.Snapshot, history []*entity.Snapshot) []detectorResult {
	results := make([]detectorResult, len(e.detectors))

	var g errgroup.Group
	if e.cfg.MaxConcurrentDetectors > 0 {
		g.SetLimit(e.cfg.MaxConcurrentDetectors)
	}
	for i, d := range e.detectors {
		i, d := i, d
		g.Go(func() error {
			results[i] = e.runDetector(ctx, d, snapshot, history)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runDetector executes one detector under its time budget. Errors, panics and
// timeouts all reduce to a failed result with no findings.
func (e *Engine) runDetector(ctx context.Context, d Detector, snapshot *entity.Snapshot, history []*entity.Snapshot) detectorResult {
	name := d.Name()
	start := time.Now()

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if e.cfg.DetectorTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, e.cfg.DetectorTimeout)
	}
	defer cancel()

	done := make(chan detectorResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- detectorResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		findings, err := d.Detect(dctx, snapshot, history)
		done <- detectorResult{findings: findings, err: err}
	}()

	var res detectorResult
	select {
	case res = <-done:
	case <-dctx.Done():
		res = detectorResult{err: ErrDetectorTimeout}
		if ctx.Err() != nil {
			res.err = ctx.Err()
		}
	}

	if res.err != nil {
		res = detectorResult{err: &DetectorError{Detector: name, Err: res.err}}
		e.logger.Warn("Detector failed, continuing without its findings",
			zap.String("detector", name),
			zap.Error(res.err))
	} else {
		res.findings = append([]entity.Finding(nil), res.findings...)
		for i := range res.findings {
			res.findings[i].Confidence = entity.ClampConfidence(res.findings[i].Confidence)
		}
	}

	e.observer.ObserveDetectorRun(name, time.Since(start), res.err)
	return res
}

func (e *Engine) insufficientDecision(tokenMint string, snapshot *entity.Snapshot, stats IngestStats,
	heuristicSafety float64, preMigration bool) *entity.RiskDecision {

	return &entity.RiskDecision{
		TokenMint:       tokenMint,
		Status:          entity.DecisionStatusInsufficientData,
		RugProbability:  0,
		Verdict:         entity.VerdictMarginal,
		PreMigration:    preMigration,
		Findings:        []entity.Finding{},
		GraphMetrics:    snapshot.Metrics(),
		RiskFactors:     []string{entity.RiskFactorInsufficientData},
		HeuristicSafety: heuristicSafety,
		EventCount:      stats.Accepted,
		SkippedEvents:   stats.Skipped,
		SnapshotTimeMs:  snapshot.TimestampMs(),
	}
}

func (e *Engine) disabledDecision(tokenMint string, eventCount int, heuristicSafety float64, preMigration bool) *entity.RiskDecision {
	return &entity.RiskDecision{
		TokenMint:       tokenMint,
		Status:          entity.DecisionStatusDisabled,
		RugProbability:  1 - heuristicSafety,
		Verdict:         e.scorer.Verdict(heuristicSafety, preMigration),
		PreMigration:    preMigration,
		Findings:        []entity.Finding{},
		RiskFactors:     []string{entity.RiskFactorTemporalDisabled},
		HeuristicSafety: heuristicSafety,
		FinalSafety:     heuristicSafety,
		EventCount:      eventCount,
	}
}
