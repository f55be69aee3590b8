package entity

import (
	"errors"
	"math"
)

// TransferKind classifies a transfer relative to the token's liquidity pool
type TransferKind string

const (
	TransferKindBuy      TransferKind = "buy"      // pool -> wallet
	TransferKindSell     TransferKind = "sell"     // wallet -> pool
	TransferKindTransfer TransferKind = "transfer" // wallet -> wallet, or pool unknown
)

// IsValid reports whether the kind is one of the known transfer kinds
func (k TransferKind) IsValid() bool {
	switch k {
	case TransferKindBuy, TransferKindSell, TransferKindTransfer:
		return true
	default:
		return false
	}
}

// Input validation errors. Events failing validation are skipped by the graph builder.
var (
	ErrMissingAddress   = errors.New("transfer is missing from or to address")
	ErrSelfTransfer     = errors.New("transfer from and to the same wallet")
	ErrInvalidAmount    = errors.New("transfer amount is negative or not finite")
	ErrInvalidTimestamp = errors.New("transfer timestamp is not positive")
	ErrMintMismatch     = errors.New("transfer belongs to a different token mint")
)

// TransferEvent represents a single token transfer supplied by the event source
type TransferEvent struct {
	Signature   string       `json:"signature,omitempty"`
	TokenMint   string       `json:"token_mint"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Amount      float64      `json:"amount"`
	TimestampMs int64        `json:"timestamp_ms"`
	Kind        TransferKind `json:"kind"`
}

// Validate checks the structural integrity of the event
func (e TransferEvent) Validate() error {
	if e.From == "" || e.To == "" {
		return ErrMissingAddress
	}
	if e.From == e.To {
		return ErrSelfTransfer
	}
	if e.Amount < 0 || math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return ErrInvalidAmount
	}
	if e.TimestampMs <= 0 {
		return ErrInvalidTimestamp
	}
	return nil
}

// ResolveKind labels the transfer against a liquidity pool address.
// Without a pool the event keeps its own kind, defaulting to transfer.
func (e TransferEvent) ResolveKind(lpPool string) TransferKind {
	if lpPool != "" {
		switch {
		case e.From == lpPool:
			return TransferKindBuy
		case e.To == lpPool:
			return TransferKindSell
		default:
			return TransferKindTransfer
		}
	}
	if e.Kind.IsValid() {
		return e.Kind
	}
	return TransferKindTransfer
}
