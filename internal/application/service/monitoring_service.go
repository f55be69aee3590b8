package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/repository"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision sources recorded on every DecisionRecord
const (
	SourceSession  = "session"
	SourceOnDemand = "on_demand"
)

// SessionMetrics receives session and sink telemetry
type SessionMetrics interface {
	SetActiveSessions(n int)
	ObserveSinkFailure(sink string)
	ObserveDroppedBatch()
}

type nopSessionMetrics struct{}

func (nopSessionMetrics) SetActiveSessions(int)     {}
func (nopSessionMetrics) ObserveSinkFailure(string) {}
func (nopSessionMetrics) ObserveDroppedBatch()      {}

// MonitoringConfig tunes session queues and sink calls
type MonitoringConfig struct {
	QueueSize    int
	SinkTimeout  time.Duration
	PersistFlows bool
}

// Sinks groups the optional decision consumers. Nil members are skipped.
type Sinks struct {
	Decisions repository.DecisionRepository
	Wallets   repository.WalletRepository
	Publisher service.DecisionPublisher
	Notifier  service.AlertNotifier
	Metrics   SessionMetrics
}

// session owns one token's window. Only its worker goroutine touches the window.
type session struct {
	mint    string
	window  *service.Window
	batches chan []entity.TransferEvent
	ctx     context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	opts service.SessionOptions
	last *entity.RiskDecision
}

func (s *session) options() service.SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// MonitoringApplicationService implements MonitoringService interface
type MonitoringApplicationService struct {
	engine *service.Engine
	sinks  Sinks
	cfg    MonitoringConfig
	now    func() time.Time
	newID  func() string
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	workers  sync.WaitGroup // includes stopped sessions still finishing a batch
}

// NewMonitoringApplicationService creates a new monitoring application service
func NewMonitoringApplicationService(
	engine *service.Engine,
	sinks Sinks,
	cfg MonitoringConfig,
	logger *logger.Logger,
) *MonitoringApplicationService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	if sinks.Metrics == nil {
		sinks.Metrics = nopSessionMetrics{}
	}
	return &MonitoringApplicationService{
		engine:   engine,
		sinks:    sinks,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.WithComponent("monitoring-service"),
		sessions: make(map[string]*session),
	}
}

var _ service.MonitoringService = (*MonitoringApplicationService)(nil)

// StartSession begins monitoring a token, or updates the options of an existing session
func (s *MonitoringApplicationService) StartSession(ctx context.Context, tokenMint string, opts service.SessionOptions) error {
	if tokenMint == "" {
		return fmt.Errorf("token mint is required")
	}
	opts = copyOptions(opts)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return service.ErrServiceClosed
	}

	if existing, ok := s.sessions[tokenMint]; ok {
		existing.mu.Lock()
		existing.opts = opts
		existing.mu.Unlock()
		s.logger.Info("Updated monitoring session",
			zap.String("mint", tokenMint),
			zap.Bool("pre_migration", opts.PreMigration),
			zap.Float64("heuristic_safety", opts.HeuristicSafety))
		return nil
	}

	// Sessions outlive the request that started them
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		mint:    tokenMint,
		window:  s.engine.NewWindow(),
		batches: make(chan []entity.TransferEvent, s.cfg.QueueSize),
		ctx:     sctx,
		cancel:  cancel,
		opts:    opts,
	}
	s.sessions[tokenMint] = sess
	s.sinks.Metrics.SetActiveSessions(len(s.sessions))

	s.workers.Add(1)
	go s.runSession(sess)

	s.logger.Info("Started monitoring session",
		zap.String("mint", tokenMint),
		zap.Bool("pre_migration", opts.PreMigration),
		zap.Float64("heuristic_safety", opts.HeuristicSafety))
	return nil
}

// StopSession ends monitoring of a token without waiting for its worker.
// In-flight analysis is abandoned and its decision dropped.
func (s *MonitoringApplicationService) StopSession(tokenMint string) error {
	s.mu.Lock()
	sess, ok := s.sessions[tokenMint]
	if ok {
		delete(s.sessions, tokenMint)
		s.sinks.Metrics.SetActiveSessions(len(s.sessions))
	}
	s.mu.Unlock()

	if !ok {
		return service.ErrSessionNotFound
	}
	// The worker drops whatever it is analyzing and exits on its own
	sess.cancel()

	s.logger.Info("Stopping monitoring session", zap.String("mint", tokenMint))
	return nil
}

// Submit queues a batch for the token's session
func (s *MonitoringApplicationService) Submit(tokenMint string, events []entity.TransferEvent) error {
	s.mu.Lock()
	sess, ok := s.sessions[tokenMint]
	s.mu.Unlock()
	if !ok {
		return service.ErrSessionNotFound
	}

	batch := make([]entity.TransferEvent, len(events))
	copy(batch, events)

	select {
	case sess.batches <- batch:
		return nil
	case <-sess.ctx.Done():
		return service.ErrSessionNotFound
	default:
		s.sinks.Metrics.ObserveDroppedBatch()
		s.logger.Warn("Session queue is full, dropping batch",
			zap.String("mint", tokenMint),
			zap.Int("events", len(events)))
		return service.ErrSessionBusy
	}
}

// AnalyzeOnce runs a single analysis against a fresh window and hands the
// decision to the sinks
func (s *MonitoringApplicationService) AnalyzeOnce(ctx context.Context, tokenMint string, events []entity.TransferEvent, opts service.SessionOptions) (*entity.RiskDecision, error) {
	window := s.engine.NewWindow()
	decision := s.engine.Analyze(ctx, tokenMint, opts.LPPoolAddress, events, window, opts.HeuristicSafety, opts.PreMigration)
	if err := ctx.Err(); err != nil {
		return decision, err
	}

	latest, _ := window.Latest()
	s.handleDecision(ctx, s.newRecord(decision, SourceOnDemand), latest)
	return decision, nil
}

// LastDecision returns the latest decision of a running session
func (s *MonitoringApplicationService) LastDecision(tokenMint string) (*entity.RiskDecision, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[tokenMint]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.last, sess.last != nil
}

// ActiveSessions lists monitored tokens in ascending order
func (s *MonitoringApplicationService) ActiveSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for mint := range s.sessions {
		out = append(out, mint)
	}
	sort.Strings(out)
	return out
}

// Shutdown stops every session and waits for all session workers, including
// those of sessions stopped earlier
func (s *MonitoringApplicationService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.sinks.Metrics.SetActiveSessions(0)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for session workers: %w", ctx.Err())
	}
	s.logger.Info("Monitoring service shut down", zap.Int("sessions", len(sessions)))
	return nil
}

// runSession is the single worker of a session
func (s *MonitoringApplicationService) runSession(sess *session) {
	defer s.workers.Done()
	for {
		select {
		case <-sess.ctx.Done():
			s.logger.Info("Stopped monitoring session",
				zap.String("mint", sess.mint),
				zap.Int64("snapshots", sess.window.Pushed()))
			return
		case batch := <-sess.batches:
			s.analyzeBatch(sess, batch)
		}
	}
}

func (s *MonitoringApplicationService) analyzeBatch(sess *session, batch []entity.TransferEvent) {
	opts := sess.options()
	pushedBefore := sess.window.Pushed()

	decision := s.engine.Analyze(sess.ctx, sess.mint, opts.LPPoolAddress, batch, sess.window,
		opts.HeuristicSafety, opts.PreMigration)
	if sess.ctx.Err() != nil {
		s.logger.Debug("Session stopped during analysis, dropping decision", zap.String("mint", sess.mint))
		return
	}

	sess.mu.Lock()
	sess.last = decision
	sess.mu.Unlock()

	var flows *entity.Snapshot
	if sess.window.Pushed() > pushedBefore {
		flows, _ = sess.window.Latest()
	}
	s.handleDecision(sess.ctx, s.newRecord(decision, SourceSession), flows)
}

func (s *MonitoringApplicationService) newRecord(decision *entity.RiskDecision, source string) *entity.DecisionRecord {
	return &entity.DecisionRecord{
		ID:         s.newID(),
		AnalyzedAt: s.now().UTC(),
		Source:     source,
		Decision:   decision,
	}
}

// handleDecision fans a decision out to the sinks. Sink failures are logged
// and counted; they never affect the decision.
func (s *MonitoringApplicationService) handleDecision(ctx context.Context, record *entity.DecisionRecord, flows *entity.Snapshot) {
	d := record.Decision
	s.logger.Info("Token analyzed",
		zap.String("mint", d.TokenMint),
		zap.String("decision_id", record.ID),
		zap.String("source", record.Source),
		zap.String("status", string(d.Status)),
		zap.String("verdict", string(d.Verdict)),
		zap.Float64("rug_probability", d.RugProbability),
		zap.Float64("final_safety", d.FinalSafety),
		zap.Int("findings", len(d.Findings)),
		zap.Int("events", d.EventCount))

	sinkCtx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
	defer cancel()

	if s.sinks.Decisions != nil {
		if err := s.sinks.Decisions.SaveDecision(sinkCtx, record); err != nil {
			s.sinkFailed("decision_store", record, err)
		}
	}

	if s.sinks.Wallets != nil {
		if s.cfg.PersistFlows && flows != nil {
			if err := s.sinks.Wallets.SaveSnapshotFlows(sinkCtx, d.TokenMint, flows); err != nil {
				s.sinkFailed("flow_store", record, err)
			}
		}
		if len(d.Findings) > 0 {
			if err := s.sinks.Wallets.FlagWallets(sinkCtx, record); err != nil {
				s.sinkFailed("wallet_flags", record, err)
			}
		}
	}

	if s.sinks.Publisher != nil {
		if err := s.sinks.Publisher.PublishDecision(sinkCtx, record); err != nil {
			s.sinkFailed("publisher", record, err)
		}
	}

	if s.sinks.Notifier != nil && d.Verdict == entity.VerdictReject {
		if err := s.sinks.Notifier.NotifyReject(sinkCtx, record); err != nil {
			s.sinkFailed("notifier", record, err)
		}
	}
}

func (s *MonitoringApplicationService) sinkFailed(sink string, record *entity.DecisionRecord, err error) {
	s.sinks.Metrics.ObserveSinkFailure(sink)
	s.logger.Error("Decision sink failed",
		zap.String("sink", sink),
		zap.String("mint", record.Decision.TokenMint),
		zap.String("decision_id", record.ID),
		zap.Error(err))
}

func copyOptions(opts service.SessionOptions) service.SessionOptions {
	if opts.LPPoolAddress != nil {
		pool := *opts.LPPoolAddress
		opts.LPPoolAddress = &pool
	}
	return opts
}
