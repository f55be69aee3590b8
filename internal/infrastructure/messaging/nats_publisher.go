package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnProvider exposes the shared NATS connection, which may not exist yet
type ConnProvider interface {
	Conn() *nats.Conn
}

// NATSDecisionPublisher publishes decisions to <decision_subject>.<mint>
type NATSDecisionPublisher struct {
	conns  ConnProvider
	config *config.NATSConfig
	logger *logger.Logger
}

// NewNATSDecisionPublisher creates a decision publisher sharing the consumer's connection
func NewNATSDecisionPublisher(conns ConnProvider, cfg *config.NATSConfig, logger *logger.Logger) service.DecisionPublisher {
	return &NATSDecisionPublisher{
		conns:  conns,
		config: cfg,
		logger: logger.WithComponent("nats-publisher"),
	}
}

// DecisionSubject returns the subject a token's decisions are published on
func DecisionSubject(prefix, mint string) string {
	return fmt.Sprintf("%s.%s", prefix, mint)
}

// PublishDecision publishes a decision record as JSON
func (p *NATSDecisionPublisher) PublishDecision(ctx context.Context, record *entity.DecisionRecord) error {
	if record == nil || record.Decision == nil {
		return fmt.Errorf("nil decision record")
	}
	if !p.config.Enabled || p.config.DecisionSubject == "" {
		return nil
	}
	conn := p.conns.Conn()
	if conn == nil || !conn.IsConnected() {
		p.logger.Debug("NATS not connected, skipping decision publish",
			zap.String("mint", record.Decision.TokenMint))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	subject := DecisionSubject(p.config.DecisionSubject, record.Decision.TokenMint)
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish decision to %s: %w", subject, err)
	}

	p.logger.Debug("Published decision",
		zap.String("subject", subject),
		zap.String("id", record.ID),
		zap.String("verdict", string(record.Decision.Verdict)))
	return nil
}
