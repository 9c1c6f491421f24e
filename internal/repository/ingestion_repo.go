package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/models"
)

const uniqueViolation = "23505"

const recordColumns = `id, slot_type, slot_id, owner_id, upload_ticket_id, provider_asset_id,
	provider_playback_id, state, attempt_count, failure_reason, created_at, updated_at`

type IngestionRepo struct {
	pool *pgxpool.Pool
}

func NewIngestionRepo(pool *pgxpool.Pool) *IngestionRepo {
	return &IngestionRepo{pool: pool}
}

// Create inserts a PENDING record. The partial unique index on active slots turns a lost
// issuance race into ingestion.ErrDuplicateActiveUpload.
func (r *IngestionRepo) Create(ctx context.Context, rec *models.IngestionRecord) error {
	query := `INSERT INTO ingestion_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.SlotType, rec.SlotID, rec.OwnerID, rec.UploadTicketID, rec.ProviderAssetID,
		rec.ProviderPlaybackID, rec.State, rec.AttemptCount, rec.FailureReason, rec.CreatedAt, rec.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "ingestion_records_active_slot_idx" {
		return fmt.Errorf("insert ingestion record: %w", ingestion.ErrDuplicateActiveUpload)
	}
	return err
}

func (r *IngestionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.IngestionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ingestion_records WHERE id = $1`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

func (r *IngestionRepo) GetByUploadTicketID(ctx context.Context, ticketID string) (*models.IngestionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ingestion_records WHERE upload_ticket_id = $1`
	return scanRecord(r.pool.QueryRow(ctx, query, ticketID))
}

// FindActiveBySlot returns nil, nil when the slot is free.
func (r *IngestionRepo) FindActiveBySlot(ctx context.Context, slotType models.SlotType, slotID uuid.UUID) (*models.IngestionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ingestion_records
		WHERE slot_type = $1 AND slot_id = $2 AND state = ANY($3)
		ORDER BY created_at DESC LIMIT 1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, slotType, slotID, activeStateNames()))
	if errors.Is(err, ingestion.ErrRecordNotFound) {
		return nil, nil
	}
	return rec, err
}

func (r *IngestionRepo) CompareAndSwap(ctx context.Context, next *models.IngestionRecord, expectedState models.IngestionState, expectedAttempts int) (bool, error) {
	query := `UPDATE ingestion_records
		SET state = $1, provider_asset_id = $2, provider_playback_id = $3, attempt_count = $4,
			failure_reason = $5, updated_at = $6
		WHERE id = $7 AND state = $8 AND attempt_count = $9`

	tag, err := r.pool.Exec(ctx, query,
		next.State, next.ProviderAssetID, next.ProviderPlaybackID, next.AttemptCount,
		next.FailureReason, next.UpdatedAt, next.ID, expectedState, expectedAttempts,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListStale returns in-flight records not updated since before. Used to resume orphaned loops.
func (r *IngestionRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.IngestionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM ingestion_records
		WHERE state IN ('TRANSPORT_COMPLETE', 'PROCESSING') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.IngestionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *IngestionRepo) LatestReadyBySlots(ctx context.Context, slotType models.SlotType, slotIDs []uuid.UUID) (map[uuid.UUID]*models.IngestionRecord, error) {
	out := make(map[uuid.UUID]*models.IngestionRecord, len(slotIDs))
	if len(slotIDs) == 0 {
		return out, nil
	}

	query := `SELECT DISTINCT ON (slot_id) ` + recordColumns + ` FROM ingestion_records
		WHERE slot_type = $1 AND slot_id = ANY($2) AND state = 'READY'
		ORDER BY slot_id, created_at DESC`

	rows, err := r.pool.Query(ctx, query, slotType, slotIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.SlotID] = rec
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*models.IngestionRecord, error) {
	rec := &models.IngestionRecord{}
	err := row.Scan(
		&rec.ID, &rec.SlotType, &rec.SlotID, &rec.OwnerID, &rec.UploadTicketID, &rec.ProviderAssetID,
		&rec.ProviderPlaybackID, &rec.State, &rec.AttemptCount, &rec.FailureReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ingestion.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func activeStateNames() []string {
	names := make([]string, 0, len(models.ActiveStates))
	for _, s := range models.ActiveStates {
		names = append(names, string(s))
	}
	return names
}
