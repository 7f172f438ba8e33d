package service

import (
	"context"
	"sync"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

// MemoryTicketRepository keeps tickets in process memory.
// It is used when no database is configured.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]model.Ticket
}

func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{tickets: make(map[string]model.Ticket)}
}

func (r *MemoryTicketRepository) CreateTicket(ctx context.Context, t model.Ticket) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.ID = model.NewTicketID()

	r.mu.Lock()
	r.tickets[t.ID] = t
	r.mu.Unlock()
	return t.ID, nil
}

func (r *MemoryTicketRepository) Ticket(id string) (model.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	return t, ok
}

func (r *MemoryTicketRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}
