package repo

import (
	"context"
	"encoding/json"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// AnalysisQueuePG queues materialized outputs for the downstream analysis pipeline.
type AnalysisQueuePG struct {
	sql infra.SQLExecutor
}

func NewAnalysisQueue(sql infra.SQLExecutor) *AnalysisQueuePG {
	return &AnalysisQueuePG{sql: sql}
}

type analysisRow struct {
	OutputID     string `json:"output_id"`
	GenerationID string `json:"generation_id"`
}

// EnqueueOutputs inserts one pending analysis job per output.
func (q *AnalysisQueuePG) EnqueueOutputs(ctx context.Context, outputs []domain.Output) error {
	if len(outputs) == 0 {
		return nil
	}
	rows := make([]analysisRow, 0, len(outputs))
	for _, o := range outputs {
		rows = append(rows, analysisRow{OutputID: o.ID, GenerationID: o.GenerationID})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	_, err = q.sql.Exec(ctx, sqlinline.QInsertOutputAnalysisJobs, raw)
	return err
}

var _ domain.AnalysisQueue = (*AnalysisQueuePG)(nil)
