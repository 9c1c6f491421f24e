package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifestory-backend/internal/ingestion"
	"lifestory-backend/internal/models"
)

// MirrorRepo stores the provider's view of each upload as delivered by webhooks.
type MirrorRepo struct {
	pool *pgxpool.Pool
}

func NewMirrorRepo(pool *pgxpool.Pool) *MirrorRepo {
	return &MirrorRepo{pool: pool}
}

func (r *MirrorRepo) GetByUploadID(ctx context.Context, uploadID string) (*models.MirrorRow, error) {
	row := &models.MirrorRow{}
	query := `SELECT upload_id, upload_status, asset_id, asset_status, playback_id, updated_at
		FROM transcoder_mirror WHERE upload_id = $1`

	err := r.pool.QueryRow(ctx, query, uploadID).Scan(
		&row.UploadID, &row.UploadStatus, &row.AssetID, &row.AssetStatus, &row.PlaybackID, &row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ingestion.ErrMirrorRowMissing
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Upsert merges row into the mirror. Empty fields never overwrite what an earlier event set,
// since upload and asset events each carry only half of the picture.
func (r *MirrorRepo) Upsert(ctx context.Context, row *models.MirrorRow) error {
	query := `INSERT INTO transcoder_mirror (upload_id, upload_status, asset_id, asset_status, playback_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (upload_id) DO UPDATE SET
			upload_status = COALESCE(NULLIF(EXCLUDED.upload_status, ''), transcoder_mirror.upload_status),
			asset_id = COALESCE(EXCLUDED.asset_id, transcoder_mirror.asset_id),
			asset_status = COALESCE(EXCLUDED.asset_status, transcoder_mirror.asset_status),
			playback_id = COALESCE(EXCLUDED.playback_id, transcoder_mirror.playback_id),
			updated_at = EXCLUDED.updated_at`

	_, err := r.pool.Exec(ctx, query,
		row.UploadID, row.UploadStatus, row.AssetID, row.AssetStatus, row.PlaybackID, row.UpdatedAt,
	)
	return err
}
