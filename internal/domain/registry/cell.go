/*
Package registry serializes event processing per conversation using the Actor Model.

Key Architectural Concepts:
  - Virtual Cells: every active conversation is represented by an isolated 'Cell' (Actor)
    that owns a FIFO mailbox. Events for one conversation are processed one at a time,
    in the order they were acknowledged, so session state never sees concurrent writers.
  - Cross-conversation parallelism: cells run independently, bounded only by a global
    in-flight semaphore shared by the Hub.
  - Decoupling: the webhook acknowledgment path only enqueues; slow work (LLM, delivery,
    persistence) happens on the cell goroutine under a context owned by the Hub.
  - Reclamation: idle cells are retired by a janitor; a retired cell refuses new work
    and the Hub transparently creates a fresh one.
*/
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/webitel/im-support-bot/internal/domain/model"
)

var (
	// ErrMailboxFull is returned when a conversation has too many queued events.
	ErrMailboxFull = errors.New("registry: conversation mailbox is full")
	// ErrHubClosed is returned once shutdown has started.
	ErrHubClosed = errors.New("registry: hub is closed")

	errCellRetired = errors.New("registry: cell retired")
)

type job struct {
	event *model.InboundEvent
	done  chan struct{}
}

// Celler defines the internal API for conversation-specific processing units.
type Celler interface {
	Push(j job) error
	TryRetire(idle time.Duration) bool
	Queued() int
	Stop()
	Exited() <-chan struct{}
}

// Cell implements [ISOLATED_PROCESSING] for a single conversation.
type Cell struct {
	// [IDENTITY]
	key string

	// [MAILBOX]
	// Buffered FIFO that decouples the acknowledgment path from processing.
	mailbox chan job

	// [CONCURRENCY_CONTROL]
	// Guards the lifecycle flags below; never held while a job runs.
	mu             sync.Mutex
	stopped        bool
	busy           bool
	lastActivityAt time.Time

	// [LIFECYCLE_CONTROL]
	doneCh   chan struct{}
	exitedCh chan struct{}

	run func(j job)
}

func newCell(key string, mailboxSize int, run func(j job)) *Cell {
	c := &Cell{
		key:            key,
		mailbox:        make(chan job, mailboxSize),
		lastActivityAt: time.Now(),
		doneCh:         make(chan struct{}),
		exitedCh:       make(chan struct{}),
		run:            run,
	}
	go c.loop()
	return c
}

// Push enqueues without blocking the caller.
func (c *Cell) Push(j job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return errCellRetired
	}
	c.lastActivityAt = time.Now()

	select {
	case c.mailbox <- j:
		return nil
	default:
		return ErrMailboxFull
	}
}

// TryRetire stops the cell if it has been idle for longer than idle.
func (c *Cell) TryRetire(idle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.busy || len(c.mailbox) > 0 || time.Since(c.lastActivityAt) <= idle {
		return false
	}
	c.stopped = true
	close(c.doneCh)
	return true
}

func (c *Cell) Queued() int { return len(c.mailbox) }

// Stop refuses new work; already queued jobs are still drained.
func (c *Cell) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	close(c.doneCh)
}

func (c *Cell) Exited() <-chan struct{} { return c.exitedCh }

func (c *Cell) loop() {
	defer close(c.exitedCh)
	for {
		select {
		case j := <-c.mailbox:
			c.process(j)
		case <-c.doneCh:
			// [DRAIN] Finish what was acknowledged before exiting.
			for {
				select {
				case j := <-c.mailbox:
					c.process(j)
				default:
					return
				}
			}
		}
	}
}

func (c *Cell) process(j job) {
	c.setBusy(true)
	defer c.setBusy(false)
	c.run(j)
}

func (c *Cell) setBusy(b bool) {
	c.mu.Lock()
	c.busy = b
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}
