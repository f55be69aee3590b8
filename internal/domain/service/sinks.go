package service

import (
	"context"
	"crypto-rug-graph-detector/internal/domain/entity"
)

// TransferDecoder converts relay messages into transfer events
type TransferDecoder interface {
	// DecodeTransfer decodes one relay message
	DecodeTransfer(msg *entity.TransferMessage) (entity.TransferEvent, error)
}

// DecisionPublisher broadcasts decisions to downstream consumers
type DecisionPublisher interface {
	// PublishDecision publishes a decision record
	PublishDecision(ctx context.Context, record *entity.DecisionRecord) error
}

// AlertNotifier delivers alerts for rejected tokens
type AlertNotifier interface {
	// NotifyReject sends an alert for a rejected token
	NotifyReject(ctx context.Context, record *entity.DecisionRecord) error
}
