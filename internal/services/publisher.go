package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lifestory-backend/internal/models"
)

// UpdatePublisher sends WebSocket updates via Redis pub/sub. Every API instance subscribes, so
// the owner's socket receives the update wherever it is connected.
type UpdatePublisher struct {
	redis *redis.Client
}

func NewUpdatePublisher(client *redis.Client) *UpdatePublisher {
	return &UpdatePublisher{redis: client}
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

func (p *UpdatePublisher) Publish(ctx context.Context, ownerID uuid.UUID, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, UserChannel(ownerID), string(data)).Err()
}
