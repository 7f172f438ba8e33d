package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

const uniqueViolation = "23505"

// idAttempts bounds regeneration when a short ticket id collides.
const idAttempts = 3

type TicketRepository struct {
	db *DB
}

func NewTicketRepository(db *DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const insertTicket = `
INSERT INTO support_tickets
	(id, conversation_id, session_id, sender_id, category, initial_message, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

func (r *TicketRepository) CreateTicket(ctx context.Context, t model.Ticket) (string, error) {
	var lastErr error
	for range idAttempts {
		id := model.NewTicketID()

		var stored string
		err := r.db.q.QueryRow(ctx, insertTicket,
			id, t.ConversationID, t.SessionID, t.SenderID, t.Category,
			t.InitialMessage, t.Description, t.CreatedAt,
		).Scan(&stored)
		if err == nil {
			return stored, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
			return "", fmt.Errorf("postgres: insert ticket: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("postgres: insert ticket: id collisions: %w", lastErr)
}
