package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"go.uber.org/zap"
)

// IngestConfig controls how the transfer stream is cut into session batches
type IngestConfig struct {
	BatchSize         int
	FlushInterval     time.Duration
	AutoStartSessions bool
	DefaultHeuristic  float64
}

// IngestApplicationService groups the decoded transfer stream by token and
// hands batches to the monitoring sessions. It also applies control commands.
type IngestApplicationService struct {
	monitor service.MonitoringService
	cfg     IngestConfig
	logger  *logger.Logger

	pending map[string][]entity.TransferEvent
}

// NewIngestApplicationService creates a new ingest application service
func NewIngestApplicationService(monitor service.MonitoringService, cfg IngestConfig, logger *logger.Logger) *IngestApplicationService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &IngestApplicationService{
		monitor: monitor,
		cfg:     cfg,
		logger:  logger.WithComponent("ingest-service"),
		pending: make(map[string][]entity.TransferEvent),
	}
}

// Run consumes transfers and control commands until ctx is done or both
// channels are closed. Pending batches are flushed before returning.
func (s *IngestApplicationService) Run(ctx context.Context, events <-chan entity.TransferEvent, controls <-chan entity.ControlMessage) {
	ticker := time.NewTicker(s.cfg.FlushInterval) // Flush partial batches periodically
	defer ticker.Stop()

	for events != nil || controls != nil {
		select {
		case <-ctx.Done():
			s.flushAll(ctx)
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				s.flushAll(ctx)
				continue
			}
			s.add(ctx, ev)

		case cmd, ok := <-controls:
			if !ok {
				controls = nil
				continue
			}
			s.HandleControl(ctx, cmd)

		case <-ticker.C:
			s.flushAll(ctx)
		}
	}
	s.flushAll(ctx)
}

func (s *IngestApplicationService) add(ctx context.Context, ev entity.TransferEvent) {
	if ev.TokenMint == "" {
		s.logger.Debug("Dropping transfer without mint", zap.String("signature", ev.Signature))
		return
	}
	s.pending[ev.TokenMint] = append(s.pending[ev.TokenMint], ev)
	if len(s.pending[ev.TokenMint]) >= s.cfg.BatchSize {
		s.flush(ctx, ev.TokenMint)
	}
}

func (s *IngestApplicationService) flushAll(ctx context.Context) {
	mints := make([]string, 0, len(s.pending))
	for mint := range s.pending {
		mints = append(mints, mint)
	}
	sort.Strings(mints)
	for _, mint := range mints {
		s.flush(ctx, mint)
	}
}

func (s *IngestApplicationService) flush(ctx context.Context, mint string) {
	batch := s.pending[mint]
	delete(s.pending, mint)
	if len(batch) == 0 {
		return
	}

	err := s.monitor.Submit(mint, batch)
	if errors.Is(err, service.ErrSessionNotFound) && s.cfg.AutoStartSessions {
		if startErr := s.monitor.StartSession(ctx, mint, s.defaultOptions()); startErr != nil {
			s.logger.Warn("Failed to auto-start session", zap.String("mint", mint), zap.Error(startErr))
			return
		}
		err = s.monitor.Submit(mint, batch)
	}

	switch {
	case err == nil:
		s.logger.Debug("Submitted batch", zap.String("mint", mint), zap.Int("events", len(batch)))
	case errors.Is(err, service.ErrSessionNotFound):
		s.logger.Debug("No session for token, dropping batch", zap.String("mint", mint), zap.Int("events", len(batch)))
	default:
		s.logger.Warn("Failed to submit batch", zap.String("mint", mint), zap.Int("events", len(batch)), zap.Error(err))
	}
}

// HandleControl applies one session lifecycle command
func (s *IngestApplicationService) HandleControl(ctx context.Context, cmd entity.ControlMessage) {
	switch cmd.Action {
	case entity.ControlActionStart:
		opts := s.defaultOptions()
		if cmd.Pool != "" {
			pool := cmd.Pool
			opts.LPPoolAddress = &pool
		}
		opts.PreMigration = cmd.PreMigration
		if cmd.HeuristicSafety != nil {
			opts.HeuristicSafety = *cmd.HeuristicSafety
		}
		if err := s.monitor.StartSession(ctx, cmd.TokenMint, opts); err != nil {
			s.logger.Warn("Failed to start session", zap.String("mint", cmd.TokenMint), zap.Error(err))
		}

	case entity.ControlActionStop:
		delete(s.pending, cmd.TokenMint)
		if err := s.monitor.StopSession(cmd.TokenMint); err != nil {
			s.logger.Warn("Failed to stop session", zap.String("mint", cmd.TokenMint), zap.Error(err))
		}

	default:
		s.logger.Warn("Unknown control action", zap.String("action", string(cmd.Action)))
	}
}

func (s *IngestApplicationService) defaultOptions() service.SessionOptions {
	return service.SessionOptions{HeuristicSafety: s.cfg.DefaultHeuristic}
}
