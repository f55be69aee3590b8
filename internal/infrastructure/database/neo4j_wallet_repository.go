package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/repository"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4JWalletRepository implements WalletRepository interface
type Neo4JWalletRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JWalletRepository creates a new Neo4J wallet repository
func NewNeo4JWalletRepository(client *Neo4JClient, logger *logger.Logger) repository.WalletRepository {
	return &Neo4JWalletRepository{
		client: client,
		logger: logger.WithComponent("neo4j-wallet-repo"),
	}
}

// SaveSnapshotFlows merges the snapshot's wallets and one TRANSFERRED
// relationship per ordered wallet pair into the graph
func (r *Neo4JWalletRepository) SaveSnapshotFlows(ctx context.Context, tokenMint string, snapshot *entity.Snapshot) error {
	if !r.client.Available() || snapshot == nil || snapshot.IsEmpty() {
		return nil
	}

	session := r.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	walletQuery := `
		UNWIND $wallets as w
		MERGE (wallet:Wallet {address: w.address})
		ON CREATE SET
			wallet.first_seen = w.first_seen,
			wallet.last_seen = w.last_seen
		ON MATCH SET
			wallet.first_seen = CASE WHEN w.first_seen < wallet.first_seen THEN w.first_seen ELSE wallet.first_seen END,
			wallet.last_seen = CASE WHEN w.last_seen > wallet.last_seen THEN w.last_seen ELSE wallet.last_seen END
	`

	flowQuery := `
		UNWIND $flows as f
		MATCH (from:Wallet {address: f.from})
		MATCH (to:Wallet {address: f.to})
		MERGE (from)-[r:TRANSFERRED {token: $token}]->(to)
		ON CREATE SET
			r.transfer_count = f.transfer_count,
			r.total_volume = f.total_volume,
			r.first_ts = f.first_ts,
			r.last_ts = f.last_ts,
			r.kinds = f.kinds
		ON MATCH SET
			r.transfer_count = r.transfer_count + f.transfer_count,
			r.total_volume = r.total_volume + f.total_volume,
			r.first_ts = CASE WHEN f.first_ts < r.first_ts THEN f.first_ts ELSE r.first_ts END,
			r.last_ts = CASE WHEN f.last_ts > r.last_ts THEN f.last_ts ELSE r.last_ts END,
			r.kinds = [k IN r.kinds WHERE NOT k IN f.kinds] + f.kinds
	`

	wallets := walletParams(snapshot)
	flows := flowParams(snapshot)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, walletQuery, map[string]interface{}{"wallets": wallets}); err != nil {
			return nil, err
		}
		return tx.Run(ctx, flowQuery, map[string]interface{}{
			"token": tokenMint,
			"flows": flows,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot flows: %w", err)
	}

	r.logger.Debug("Saved snapshot flows",
		zap.String("mint", tokenMint),
		zap.Int("wallets", len(wallets)),
		zap.Int("flows", len(flows)))
	return nil
}

// FlagWallets links every wallet implicated by the decision's findings to its token
func (r *Neo4JWalletRepository) FlagWallets(ctx context.Context, record *entity.DecisionRecord) error {
	if !r.client.Available() || record == nil || record.Decision == nil {
		return nil
	}
	flagged := record.Decision.FlaggedWallets(record.AnalyzedAt)
	if len(flagged) == 0 {
		return nil
	}

	session := r.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (t:Token {mint: $mint})
		WITH t
		UNWIND $wallets as w
		MERGE (wallet:Wallet {address: w.address})
		MERGE (wallet)-[f:FLAGGED_IN]->(t)
		ON CREATE SET
			f.finding_types = w.finding_types,
			f.max_confidence = w.max_confidence,
			f.first_flagged = datetime($flagged_at),
			f.last_flagged = datetime($flagged_at),
			f.last_decision_id = $decision_id
		ON MATCH SET
			f.finding_types = [x IN f.finding_types WHERE NOT x IN w.finding_types] + w.finding_types,
			f.max_confidence = CASE WHEN w.max_confidence > f.max_confidence THEN w.max_confidence ELSE f.max_confidence END,
			f.last_flagged = datetime($flagged_at),
			f.last_decision_id = $decision_id
	`

	params := map[string]interface{}{
		"mint":        record.Decision.TokenMint,
		"wallets":     flaggedParams(flagged),
		"flagged_at":  record.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		"decision_id": record.ID,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to flag wallets: %w", err)
	}
	return nil
}

// GetFlaggedWallets retrieves flagged wallets for a token ordered by confidence
func (r *Neo4JWalletRepository) GetFlaggedWallets(ctx context.Context, tokenMint string, limit int) ([]*entity.FlaggedWallet, error) {
	if !r.client.Available() {
		return nil, nil
	}

	session := r.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (w:Wallet)-[f:FLAGGED_IN]->(t:Token {mint: $mint})
		RETURN w.address as address, f.finding_types as finding_types,
			f.max_confidence as max_confidence, f.last_flagged as last_flagged
		ORDER BY f.max_confidence DESC, w.address ASC
		LIMIT $limit
	`

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{
			"mint":  tokenMint,
			"limit": limit,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get flagged wallets: %w", err)
	}

	records := result.([]*neo4j.Record)
	wallets := make([]*entity.FlaggedWallet, 0, len(records))
	for _, rec := range records {
		w := &entity.FlaggedWallet{
			Address:       stringValue(rec, "address"),
			TokenMint:     tokenMint,
			MaxConfidence: floatValue(rec, "max_confidence"),
			LastFlagged:   timeValue(rec, "last_flagged"),
		}
		for _, t := range stringsValue(rec, "finding_types") {
			w.FindingTypes = append(w.FindingTypes, entity.FindingType(t))
		}
		wallets = append(wallets, w)
	}
	return wallets, nil
}

func walletParams(snapshot *entity.Snapshot) []map[string]interface{} {
	nodes := snapshot.Nodes()
	out := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]interface{}{
			"address":    n.Address,
			"first_seen": n.FirstSeen,
			"last_seen":  n.LastSeen,
		})
	}
	return out
}

type pairFlow struct {
	from, to string
	count    int64
	volume   float64
	firstTs  int64
	lastTs   int64
	kinds    []string
}

// aggregateFlows collapses parallel edges into one flow per ordered pair,
// ordered by (from, to)
func aggregateFlows(snapshot *entity.Snapshot) []*pairFlow {
	byPair := make(map[[2]string]*pairFlow)
	for _, e := range snapshot.Edges() {
		key := [2]string{e.From, e.To}
		f, ok := byPair[key]
		if !ok {
			f = &pairFlow{from: e.From, to: e.To, firstTs: e.TimestampMs, lastTs: e.TimestampMs}
			byPair[key] = f
		}
		f.count++
		f.volume += e.Amount
		if e.TimestampMs < f.firstTs {
			f.firstTs = e.TimestampMs
		}
		if e.TimestampMs > f.lastTs {
			f.lastTs = e.TimestampMs
		}
		kind := string(e.Kind)
		found := false
		for _, k := range f.kinds {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			f.kinds = append(f.kinds, kind)
		}
	}

	out := make([]*pairFlow, 0, len(byPair))
	for _, f := range byPair {
		sort.Strings(f.kinds)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].from != out[j].from {
			return out[i].from < out[j].from
		}
		return out[i].to < out[j].to
	})
	return out
}

func flowParams(snapshot *entity.Snapshot) []map[string]interface{} {
	flows := aggregateFlows(snapshot)
	out := make([]map[string]interface{}, 0, len(flows))
	for _, f := range flows {
		out = append(out, map[string]interface{}{
			"from":           f.from,
			"to":             f.to,
			"transfer_count": f.count,
			"total_volume":   f.volume,
			"first_ts":       f.firstTs,
			"last_ts":        f.lastTs,
			"kinds":          f.kinds,
		})
	}
	return out
}

func flaggedParams(wallets []*entity.FlaggedWallet) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(wallets))
	for _, w := range wallets {
		types := make([]string, 0, len(w.FindingTypes))
		for _, t := range w.FindingTypes {
			types = append(types, string(t))
		}
		out = append(out, map[string]interface{}{
			"address":        w.Address,
			"finding_types":  types,
			"max_confidence": w.MaxConfidence,
		})
	}
	return out
}
