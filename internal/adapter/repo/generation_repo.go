package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// errAlreadyTerminal aborts the completion transaction when another writer won.
var errAlreadyTerminal = errors.New("generation already terminal")

// GenerationRepositoryPG implements domain.GenerationRepository on PostgreSQL.
type GenerationRepositoryPG struct {
	sql infra.TxExecutor
}

// NewGenerationRepository builds a repository over the shared SQL runner.
func NewGenerationRepository(sql infra.TxExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Create inserts a new generation in the processing state.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	params, err := json.Marshal(g.Parameters)
	if err != nil {
		return fmt.Errorf("encode parameters: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertGeneration,
		g.ID,
		g.OwnerID,
		g.SessionID,
		g.ModelID,
		g.Prompt,
		g.NegativePrompt,
		params,
	)
	if err := row.Scan(&g.CreatedAt, &g.UpdatedAt); err != nil {
		return err
	}
	g.Status = domain.GenerationStatusProcessing
	return nil
}

// GetByID fetches one generation.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Generation, error) {
	return scanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByID, id))
}

// GetByPredictionID finds the generation an asynchronous provider job belongs to.
func (r *GenerationRepositoryPG) GetByPredictionID(ctx context.Context, predictionID string) (*domain.Generation, error) {
	return scanGeneration(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationByPrediction, predictionID))
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		g      domain.Generation
		status string
		raw    []byte
	)
	if err := row.Scan(
		&g.ID,
		&g.OwnerID,
		&g.SessionID,
		&g.ModelID,
		&g.Prompt,
		&g.NegativePrompt,
		&status,
		&g.Cost,
		&raw,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	g.Status = domain.GenerationStatus(status)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &g.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	return &g, nil
}

// AcquireLock stamps the processing lock when it is absent or started before staleBefore.
func (r *GenerationRepositoryPG) AcquireLock(ctx context.Context, id string, lock domain.LockState, staleBefore time.Time) (bool, error) {
	raw, err := json.Marshal(lock)
	if err != nil {
		return false, err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QAcquireGenerationLock, id, raw, staleBefore)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AppendLog adds debug log entries, keeping only the newest domain.MaxDebugLogEntries.
func (r *GenerationRepositoryPG) AppendLog(ctx context.Context, id string, entries ...domain.DebugLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QAppendGenerationLog, id, raw, domain.MaxDebugLogEntries)
	return err
}

// SetProviderHandle records the asynchronous provider job of a processing generation.
func (r *GenerationRepositoryPG) SetProviderHandle(ctx context.Context, id string, handle domain.ProviderHandle) error {
	raw, err := json.Marshal(handle)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QSetGenerationProvider, id, raw)
	return err
}

// Complete moves processing to completed and inserts the outputs in the same transaction.
// It reports false without writing anything when the generation is no longer processing.
func (r *GenerationRepositoryPG) Complete(ctx context.Context, id string, outputs []domain.Output, cost float64) (bool, error) {
	rows := make([]outputRow, 0, len(outputs))
	for _, o := range outputs {
		rows = append(rows, newOutputRow(o))
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return false, err
	}

	err = r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		var owner string
		if err := tx.QueryRow(ctx, sqlinline.QCompleteGeneration, id, cost).Scan(&owner); err != nil {
			if infra.IsNoRows(err) {
				return errAlreadyTerminal
			}
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, sqlinline.QInsertGenerationOutputs, id, payload)
		return err
	})
	if errors.Is(err, errAlreadyTerminal) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Fail records the error context and moves processing to failed.
func (r *GenerationRepositoryPG) Fail(ctx context.Context, id string, errCtx domain.ErrorContext) (bool, error) {
	raw, err := json.Marshal(errCtx)
	if err != nil {
		return false, err
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QFailGeneration, id, raw)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Cancel moves processing to cancelled.
func (r *GenerationRepositoryPG) Cancel(ctx context.Context, id string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QCancelGeneration, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOutputs returns the outputs of a generation ordered by index.
func (r *GenerationRepositoryPG) ListOutputs(ctx context.Context, generationID string) ([]domain.Output, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListGenerationOutputs, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []domain.Output
	for rows.Next() {
		var (
			o    domain.Output
			kind string
		)
		if err := rows.Scan(
			&o.ID,
			&o.GenerationID,
			&o.OwnerID,
			&o.Index,
			&o.URL,
			&kind,
			&o.MimeType,
			&o.Width,
			&o.Height,
			&o.DurationSeconds,
			&o.StoragePath,
			&o.SourceURL,
			&o.Fallback,
			&o.CreatedAt,
		); err != nil {
			return nil, err
		}
		o.Kind = domain.MediaKind(kind)
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

// ListStale returns processing generations nobody appears to be working on.
func (r *GenerationRepositoryPG) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListStaleGenerations, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type outputRow struct {
	ID              string  `json:"id"`
	OwnerID         string  `json:"owner_id"`
	Index           int     `json:"idx"`
	URL             string  `json:"url"`
	Kind            string  `json:"kind"`
	MimeType        string  `json:"mime_type"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	StoragePath     string  `json:"storage_path"`
	SourceURL       string  `json:"source_url"`
	Fallback        bool    `json:"fallback"`
}

func newOutputRow(o domain.Output) outputRow {
	return outputRow{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Index:           o.Index,
		URL:             o.URL,
		Kind:            string(o.Kind),
		MimeType:        o.MimeType,
		Width:           o.Width,
		Height:          o.Height,
		DurationSeconds: o.DurationSeconds,
		StoragePath:     o.StoragePath,
		SourceURL:       o.SourceURL,
		Fallback:        o.Fallback,
	}
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
