package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lifestory-backend/internal/models"
)

// PromptRepo reads prompts owned by the CRUD layer. It never writes.
type PromptRepo struct {
	pool *pgxpool.Pool
}

func NewPromptRepo(pool *pgxpool.Pool) *PromptRepo {
	return &PromptRepo{pool: pool}
}

func (r *PromptRepo) ListPromptsByTopic(ctx context.Context, topicID uuid.UUID) ([]models.Prompt, error) {
	query := `SELECT id, topic_id, prompt_text, is_context_establishing, created_at
		FROM prompts WHERE topic_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.TopicID, &p.PromptText, &p.IsContextEstablishing, &p.CreatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
