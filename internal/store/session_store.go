package store

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-support-bot/internal/domain/model"
)

const sessionShards = 32

type sessionShard struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
}

// SessionStore keeps one session per conversation with an inactivity TTL.
// Every operation on a conversation is serialized by its shard lock, while
// conversations on different shards proceed in parallel.
type SessionStore struct {
	ttl    time.Duration
	now    func() time.Time
	shards [sessionShards]*sessionShard
	logger *slog.Logger

	stopOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// SessionOption configures a SessionStore.
type SessionOption func(*SessionStore)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) { s.now = now }
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionStore) { s.logger = logger }
}

func NewSessionStore(ttl time.Duration, opts ...SessionOption) *SessionStore {
	s := &SessionStore{
		ttl:    ttl,
		now:    time.Now,
		doneCh: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &sessionShard{sessions: make(map[string]*model.Session)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) shard(conversationID string) *sessionShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return s.shards[h.Sum32()%sessionShards]
}

// lockedGetOrCreate must be called with sh.mu held.
func (s *SessionStore) lockedGetOrCreate(sh *sessionShard, conversationID string) *model.Session {
	now := s.now()
	if sess, ok := sh.sessions[conversationID]; ok {
		if !s.expired(sess, now) {
			return sess
		}
		// [LAZY_EXPIRY] A stale session is replaced even before the janitor runs.
		delete(sh.sessions, conversationID)
	}
	sess := &model.Session{
		ConversationID: conversationID,
		SessionID:      uuid.NewString(),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	sh.sessions[conversationID] = sess
	return sess
}

func (s *SessionStore) expired(sess *model.Session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.LastActivityAt) > s.ttl
}

// GetOrCreate returns a copy of the conversation's session, creating it on first contact.
func (s *SessionStore) GetOrCreate(_ context.Context, conversationID string) (*model.Session, error) {
	sh := s.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	return s.lockedGetOrCreate(sh, conversationID).Clone(), nil
}

// Get returns a copy of the live session, or nil when none exists.
func (s *SessionStore) Get(_ context.Context, conversationID string) (*model.Session, error) {
	sh := s.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.sessions[conversationID]
	if !ok || s.expired(sess, s.now()) {
		return nil, nil
	}
	return sess.Clone(), nil
}

// SetPendingFlow stores flow on the session, replacing any previous one.
func (s *SessionStore) SetPendingFlow(_ context.Context, conversationID string, flow model.FlowState) error {
	sh := s.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := s.lockedGetOrCreate(sh, conversationID)
	sess.PendingFlow = &flow
	sess.LastActivityAt = s.now()
	return nil
}

func (s *SessionStore) ClearPendingFlow(_ context.Context, conversationID string) error {
	sh := s.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess, ok := sh.sessions[conversationID]; ok {
		sess.PendingFlow = nil
		sess.LastActivityAt = s.now()
	}
	return nil
}

// IncrementTurn bumps the turn counter and refreshes activity.
func (s *SessionStore) IncrementTurn(_ context.Context, conversationID string) (int, error) {
	sh := s.shard(conversationID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := s.lockedGetOrCreate(sh, conversationID)
	sess.TurnCount++
	sess.LastActivityAt = s.now()
	return sess.TurnCount, nil
}

// EvictExpired drops sessions idle longer than the TTL and returns how many were removed.
func (s *SessionStore) EvictExpired() int {
	now := s.now()
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, sess := range sh.sessions {
			if s.expired(sess, now) {
				delete(sh.sessions, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

func (s *SessionStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// StartJanitor runs EvictExpired every interval until Stop is called.
func (s *SessionStore) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.doneCh:
				return
			case <-ticker.C:
				if n := s.EvictExpired(); n > 0 && s.logger != nil {
					s.logger.Debug("SESSIONS_EVICTED", "count", n)
				}
			}
		}
	}()
}

func (s *SessionStore) Stop() {
	s.stopOnce.Do(func() { close(s.doneCh) })
	s.wg.Wait()
}
