package blockchain

import (
	"errors"
	"fmt"
	"strings"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Token amounts carry at most this many decimals on supported chains
const maxTokenDecimals = 18

var (
	ErrMissingSignature = errors.New("transfer message has no signature")
	ErrInvalidRawAmount = errors.New("transfer amount is not a non-negative integer")
	ErrInvalidDecimals  = errors.New("transfer decimals out of range")
	ErrMissingTimestamp = errors.New("transfer message has no timestamp")
)

// TransferDecoderService implements the transfer decoder
type TransferDecoderService struct {
	logger *logger.Logger
}

// NewTransferDecoderService creates a new transfer decoder
func NewTransferDecoderService(logger *logger.Logger) service.TransferDecoder {
	return &TransferDecoderService{
		logger: logger.WithComponent("transfer-decoder"),
	}
}

// DecodeTransfer converts a relay message into a transfer event. The raw
// integer amount is scaled by the token decimals with exact decimal arithmetic
// before it is narrowed to float64 for the graph.
func (s *TransferDecoderService) DecodeTransfer(msg *entity.TransferMessage) (entity.TransferEvent, error) {
	if msg == nil {
		return entity.TransferEvent{}, fmt.Errorf("nil transfer message")
	}
	if msg.Signature == "" {
		return entity.TransferEvent{}, ErrMissingSignature
	}

	amount, err := ScaleRawAmount(msg.Amount, msg.Decimals)
	if err != nil {
		s.logger.Debug("Rejected transfer amount",
			zap.String("signature", msg.Signature),
			zap.String("amount", msg.Amount),
			zap.Int32("decimals", msg.Decimals),
			zap.Error(err))
		return entity.TransferEvent{}, err
	}

	ts := msg.TimestampMs
	if ts <= 0 && msg.BlockTime > 0 {
		ts = msg.BlockTime * 1000
	}
	if ts <= 0 {
		return entity.TransferEvent{}, ErrMissingTimestamp
	}

	ev := entity.TransferEvent{
		Signature:   msg.Signature,
		TokenMint:   strings.TrimSpace(msg.TokenMint),
		From:        strings.TrimSpace(msg.From),
		To:          strings.TrimSpace(msg.To),
		Amount:      amount,
		TimestampMs: ts,
		Kind:        entity.TransferKind(strings.ToLower(msg.Kind)),
	}
	ev.Kind = ev.ResolveKind(strings.TrimSpace(msg.Pool))

	if err := ev.Validate(); err != nil {
		return entity.TransferEvent{}, err
	}
	return ev, nil
}

// ScaleRawAmount converts a raw base-unit integer string into token units
func ScaleRawAmount(raw string, decimals int32) (float64, error) {
	if decimals < 0 || decimals > maxTokenDecimals {
		return 0, fmt.Errorf("%w: %d", ErrInvalidDecimals, decimals)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidRawAmount
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRawAmount, err)
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, ErrInvalidRawAmount
	}

	value, _ := d.Shift(-decimals).Float64()
	return value, nil
}
