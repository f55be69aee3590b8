package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/repository"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4JDecisionRepository implements DecisionRepository interface
type Neo4JDecisionRepository struct {
	client *Neo4JClient
	logger *logger.Logger
}

// NewNeo4JDecisionRepository creates a new Neo4J decision repository
func NewNeo4JDecisionRepository(client *Neo4JClient, logger *logger.Logger) repository.DecisionRepository {
	return &Neo4JDecisionRepository{
		client: client,
		logger: logger.WithComponent("neo4j-decision-repo"),
	}
}

// SaveDecision stores a decision as (:RiskDecision)-[:ASSESSES]->(:Token)
func (r *Neo4JDecisionRepository) SaveDecision(ctx context.Context, record *entity.DecisionRecord) error {
	if !r.client.Available() {
		return nil
	}
	params, err := decisionParams(record)
	if err != nil {
		return err
	}

	session := r.client.NewSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (t:Token {mint: $mint})
		ON CREATE SET t.first_analyzed = datetime($analyzed_at)
		SET t.last_analyzed = datetime($analyzed_at),
			t.last_verdict = $verdict
		MERGE (d:RiskDecision {id: $id})
		SET d.analyzed_at = datetime($analyzed_at),
			d.source = $source,
			d.status = $status,
			d.verdict = $verdict,
			d.rug_probability = $rug_probability,
			d.final_safety = $final_safety,
			d.temporal_safety = $temporal_safety,
			d.heuristic_safety = $heuristic_safety,
			d.pre_migration = $pre_migration,
			d.temporal_ran = $temporal_ran,
			d.event_count = $event_count,
			d.finding_types = $finding_types,
			d.risk_factors = $risk_factors,
			d.payload = $payload
		MERGE (d)-[:ASSESSES]->(t)
	`

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, query, params)
	})
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}

	r.logger.Debug("Saved decision",
		zap.String("id", record.ID),
		zap.String("mint", record.Decision.TokenMint),
		zap.String("verdict", string(record.Decision.Verdict)))
	return nil
}

// GetRecentDecisions retrieves the latest decisions for a token, newest first
func (r *Neo4JDecisionRepository) GetRecentDecisions(ctx context.Context, tokenMint string, limit int) ([]*entity.DecisionRecord, error) {
	if !r.client.Available() {
		return nil, nil
	}

	session := r.client.NewSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (d:RiskDecision)-[:ASSESSES]->(t:Token {mint: $mint})
		RETURN d.id as id, d.analyzed_at as analyzed_at, d.source as source, d.payload as payload
		ORDER BY d.analyzed_at DESC
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
		return nil, fmt.Errorf("failed to get recent decisions: %w", err)
	}

	records := result.([]*neo4j.Record)
	decisions := make([]*entity.DecisionRecord, 0, len(records))
	for _, rec := range records {
		var decision entity.RiskDecision
		if err := json.Unmarshal([]byte(stringValue(rec, "payload")), &decision); err != nil {
			r.logger.Warn("Skipping decision with unreadable payload",
				zap.String("id", stringValue(rec, "id")),
				zap.Error(err))
			continue
		}
		decisions = append(decisions, &entity.DecisionRecord{
			ID:         stringValue(rec, "id"),
			AnalyzedAt: timeValue(rec, "analyzed_at"),
			Source:     stringValue(rec, "source"),
			Decision:   &decision,
		})
	}
	return decisions, nil
}

func decisionParams(record *entity.DecisionRecord) (map[string]interface{}, error) {
	if record == nil || record.Decision == nil {
		return nil, fmt.Errorf("nil decision record")
	}
	d := record.Decision

	payload, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision: %w", err)
	}

	findingTypes := make([]string, 0, len(d.Findings))
	for _, t := range entity.AllFindingTypes {
		if d.HasFinding(t) {
			findingTypes = append(findingTypes, string(t))
		}
	}
	riskFactors := d.RiskFactors
	if riskFactors == nil {
		riskFactors = []string{}
	}

	return map[string]interface{}{
		"id":               record.ID,
		"mint":             d.TokenMint,
		"analyzed_at":      record.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		"source":           record.Source,
		"status":           string(d.Status),
		"verdict":          string(d.Verdict),
		"rug_probability":  d.RugProbability,
		"final_safety":     d.FinalSafety,
		"temporal_safety":  d.TemporalSafety,
		"heuristic_safety": d.HeuristicSafety,
		"pre_migration":    d.PreMigration,
		"temporal_ran":     d.TemporalRan,
		"event_count":      int64(d.EventCount),
		"finding_types":    findingTypes,
		"risk_factors":     riskFactors,
		"payload":          string(payload),
	}, nil
}
