package registry

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/im-support-bot/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Interface guard
var _ Celler = (*Cell)(nil)

// Handler processes one event. It runs on the owning conversation's cell.
type Handler func(ctx context.Context, ev *model.InboundEvent)

// Hubber defines the gateway used by intake to schedule background work.
type Hubber interface {
	// Dispatch enqueues ev on its conversation's cell and returns a channel
	// closed once processing finishes.
	Dispatch(ev *model.InboundEvent) (<-chan struct{}, error)
	Stats() model.HubStats
	Shutdown(ctx context.Context) error
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	maxInFlight      int
	jobTimeout       time.Duration
}

// Hub implements a [SCALABLE_REGISTRY] using the Virtual Cell pattern.
type Hub struct {
	// cells stores map[string]*Cell keyed by conversation id. Optimized for [READ_HEAVY] workloads.
	cells   sync.Map
	handler Handler
	config  hubConfig
	logger  *slog.Logger

	// sem bounds cross-conversation parallelism.
	sem chan struct{}

	// ctx outlives every webhook request; it is cancelled only when shutdown gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	processed atomic.Int64
	rejected  atomic.Int64

	janitorOnce sync.Once
	stopJanitor chan struct{}
	janitorDone chan struct{}
}

func NewHub(handler Handler, opts ...Option) *Hub {
	h := &Hub{
		handler: handler,
		config: hubConfig{
			evictionInterval: time.Minute,
			idleTimeout:      5 * time.Minute,
			mailboxSize:      64,
			maxInFlight:      128,
		},
		logger:      slog.Default(),
		stopJanitor: make(chan struct{}),
		janitorDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sem = make(chan struct{}, max(h.config.maxInFlight, 1))
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h
}

// Start launches the [JANITOR] that retires idle cells.
func (h *Hub) Start() {
	h.janitorOnce.Do(func() {
		go h.janitor()
	})
}

// Dispatch routes the event to its [CONVERSATION_CELL], creating the cell lazily.
func (h *Hub) Dispatch(ev *model.InboundEvent) (<-chan struct{}, error) {
	if h.closed.Load() {
		h.rejected.Add(1)
		return nil, ErrHubClosed
	}

	j := job{event: ev, done: make(chan struct{})}
	key := ev.ConversationID

	for {
		cell := h.loadOrCreate(key)
		err := cell.Push(j)
		if errors.Is(err, errCellRetired) {
			// [RACE_WITH_JANITOR] The cell retired between lookup and push; replace it.
			h.cells.CompareAndDelete(key, cell)
			if h.closed.Load() {
				h.rejected.Add(1)
				return nil, ErrHubClosed
			}
			continue
		}
		if err != nil {
			h.rejected.Add(1)
			return nil, err
		}
		return j.done, nil
	}
}

func (h *Hub) loadOrCreate(key string) *Cell {
	if val, ok := h.cells.Load(key); ok {
		return val.(*Cell)
	}
	fresh := newCell(key, h.config.mailboxSize, h.run)
	val, loaded := h.cells.LoadOrStore(key, fresh)
	if loaded {
		// [LAZY_INIT] Another caller won; release our goroutine.
		fresh.Stop()
	}
	return val.(*Cell)
}

// run executes one job under the global in-flight limit with its own error boundary.
func (h *Hub) run(j job) {
	defer close(j.done)

	select {
	case h.sem <- struct{}{}:
	case <-h.ctx.Done():
		h.logger.Warn("JOB_ABANDONED", "event_id", j.event.ID, "conversation_id", j.event.ConversationID)
		return
	}
	defer func() { <-h.sem }()

	ctx := h.ctx
	if h.config.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("PANIC_RECOVERED",
				"err", r,
				"stack", string(debug.Stack()),
				"event_id", j.event.ID,
			)
		}
	}()

	h.handler(ctx, j.event)
	h.processed.Add(1)
}

func (h *Hub) janitor() {
	defer close(h.janitorDone)
	if h.config.evictionInterval <= 0 {
		<-h.stopJanitor
		return
	}

	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopJanitor:
			return
		case <-ticker.C:
			h.evictIdle()
		}
	}
}

func (h *Hub) evictIdle() int {
	retired := 0
	h.cells.Range(func(key, val any) bool {
		cell := val.(*Cell)
		if cell.TryRetire(h.config.idleTimeout) {
			h.cells.CompareAndDelete(key, cell)
			retired++
		}
		return true
	})
	if retired > 0 {
		h.logger.Debug("IDLE_CELLS_RETIRED", "count", retired)
	}
	return retired
}

func (h *Hub) Stats() model.HubStats {
	st := model.HubStats{
		InFlight:  len(h.sem),
		Processed: h.processed.Load(),
		Rejected:  h.rejected.Load(),
	}
	h.cells.Range(func(_, val any) bool {
		st.ActiveConversations++
		st.QueuedJobs += val.(*Cell).Queued()
		return true
	})
	return st
}

// Shutdown stops accepting work and waits for every cell to drain.
// If ctx expires first, in-flight jobs are cancelled.
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer h.cancel()

	h.janitorOnce.Do(func() { close(h.janitorDone) })
	close(h.stopJanitor)
	<-h.janitorDone

	var g errgroup.Group
	h.cells.Range(func(_, val any) bool {
		cell := val.(*Cell)
		cell.Stop()
		g.Go(func() error {
			select {
			case <-cell.Exited():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		return true
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("HUB_SHUTDOWN_INCOMPLETE", "err", err)
		return err
	}
	h.logger.Info("HUB_SHUTDOWN_COMPLETE", "processed", h.processed.Load())
	return nil
}
