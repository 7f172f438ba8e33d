package platform

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

// LogClient is the dry-run messenger: it logs what would have been sent.
type LogClient struct {
	logger *slog.Logger
}

func NewLogClient(logger *slog.Logger) *LogClient {
	return &LogClient{logger: logger}
}

func (c *LogClient) Send(ctx context.Context, msg model.OutboundMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "dry_" + uuid.NewString()
	c.logger.InfoContext(ctx, "DRY_RUN_MESSAGE",
		"conversation_id", msg.ConversationID,
		"idempotency_key", msg.IdempotencyKey,
		"buttons", len(msg.Buttons),
		"text", msg.Text,
		"message_id", id,
	)
	return id, nil
}
