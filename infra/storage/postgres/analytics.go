package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

type AnalyticsRepository struct {
	db *DB
}

func NewAnalyticsRepository(db *DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// [IDEMPOTENT_WRITE] Broker redeliveries of the same event are absorbed by the primary key.
const insertLogRow = `
INSERT INTO support_message_log
	(id, kind, is_system, conversation_id, session_id, sender_id, event_id, body, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

func (r *AnalyticsRepository) Save(ctx context.Context, ev model.AnalyticsEvent) error {
	var meta []byte
	if len(ev.Meta) > 0 {
		var err error
		if meta, err = json.Marshal(ev.Meta); err != nil {
			return fmt.Errorf("postgres: encode meta: %w", err)
		}
	}

	_, err := r.db.q.Exec(ctx, insertLogRow,
		ev.ID, string(ev.Kind), ev.Kind.IsSystem(), ev.ConversationID, ev.SessionID,
		ev.SenderID, ev.EventID, ev.Text, meta, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert log row: %w", err)
	}
	return nil
}
