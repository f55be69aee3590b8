package main

import (
	"strings"
	"testing"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/infrastructure/blockchain"
	"crypto-rug-graph-detector/internal/infrastructure/logger"
)

func TestSplitBatches(t *testing.T) {
	events := make([]entity.TransferEvent, 7)

	tests := []struct {
		n    int
		want []int
	}{
		{0, []int{7}},
		{10, []int{7}},
		{3, []int{3, 3, 1}},
		{7, []int{7}},
	}
	for _, tt := range tests {
		batches := splitBatches(events, tt.n)
		if len(batches) != len(tt.want) {
			t.Errorf("n=%d: %d batches, want %d", tt.n, len(batches), len(tt.want))
			continue
		}
		for i, b := range batches {
			if len(b) != tt.want[i] {
				t.Errorf("n=%d: batch %d has %d events, want %d", tt.n, i, len(b), tt.want[i])
			}
		}
	}
}

func TestReadTransfersSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"signature":"s1","mint":"M","from":"A","to":"B","amount":"1000","decimals":3,"timestamp_ms":10}`,
		``,
		`not json`,
		`{"signature":"s2","mint":"M","from":"A","to":"A","amount":"1","timestamp_ms":11}`,
		`{"signature":"s3","mint":"M","from":"B","to":"C","amount":"5","decimals":0,"block_time":2}`,
	}, "\n")

	log := logger.NewNopLogger()
	events, err := readTransfers(strings.NewReader(input), blockchain.NewTransferDecoderService(log), log)
	if err != nil {
		t.Fatalf("readTransfers failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Amount != 1 || events[1].TimestampMs != 2000 {
		t.Errorf("unexpected events %+v", events)
	}
}
