// Command replay runs the detection engine over a recorded transfer stream.
// Input is one relay transfer message per line (JSON). Each batch of
// -batch events is analysed in turn against a shared window, as a live
// session would, and every decision is written to stdout as a JSON line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/blockchain"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to the standard search paths)")
	inputPath := flag.String("input", "-", "Transfer messages, one JSON object per line; - reads stdin")
	mint := flag.String("mint", "", "Token mint to analyse (required)")
	pool := flag.String("pool", "", "Liquidity pool address, if known")
	preMigration := flag.Bool("pre-migration", false, "Score the token as pre-migration")
	heuristic := flag.Float64("heuristic", -1, "Heuristic safety in [0,1] (defaults to app.default_heuristic_safety)")
	batchSize := flag.Int("batch", 0, "Events per analysis; 0 analyses the whole input at once")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *mint == "" {
		fmt.Fprintln(os.Stderr, "-mint is required")
		flag.Usage()
		os.Exit(2)
	}

	log, err := logger.NewDevelopmentLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	h := cfg.App.DefaultHeuristic
	if *heuristic >= 0 {
		h = *heuristic
	}

	in := os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			log.Fatal("Failed to open input", zap.Error(err))
		}
		defer f.Close()
		in = f
	}

	replayLog := log.WithFields(map[string]interface{}{"mint": *mint, "input": *inputPath})
	events, err := readTransfers(in, blockchain.NewTransferDecoderService(log), replayLog)
	if err != nil {
		replayLog.Fatal("Failed to read transfers", zap.Error(err))
	}
	replayLog.Info("Loaded transfers", zap.Int("events", len(events)))

	var lpPool *string
	if *pool != "" {
		lpPool = pool
	}

	engine := service.NewEngine(cfg.Detection, log)
	window := engine.NewWindow()
	out := json.NewEncoder(os.Stdout)
	ctx := context.Background()

	for _, batch := range splitBatches(events, *batchSize) {
		decision := engine.Analyze(ctx, *mint, lpPool, batch, window, h, *preMigration)
		if err := out.Encode(decision); err != nil {
			replayLog.Fatal("Failed to write decision", zap.Error(err))
		}
	}
}

// readTransfers decodes every line, skipping blank and undecodable ones
func readTransfers(r io.Reader, decoder service.TransferDecoder, log *logger.Logger) ([]entity.TransferEvent, error) {
	var events []entity.TransferEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var msg entity.TransferMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("Skipping unparseable line", zap.Int("line", line), zap.Error(err))
			continue
		}
		ev, err := decoder.DecodeTransfer(&msg)
		if err != nil {
			log.Warn("Skipping undecodable transfer", zap.Int("line", line), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// splitBatches cuts events into consecutive batches of size n; n <= 0 keeps one batch
func splitBatches(events []entity.TransferEvent, n int) [][]entity.TransferEvent {
	if n <= 0 || n >= len(events) {
		return [][]entity.TransferEvent{events}
	}
	var batches [][]entity.TransferEvent
	for start := 0; start < len(events); start += n {
		end := start + n
		if end > len(events) {
			end = len(events)
		}
		batches = append(batches, events[start:end])
	}
	return batches
}
