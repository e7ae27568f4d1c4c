package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAcquisitionInFlight rejects a new session while the requester's chart is
// still being produced.
var ErrAcquisitionInFlight = errors.New("acquisition already in flight")

// Registry owns every live session. It keeps at most one per requester.
type Registry struct {
	mu       sync.Mutex
	sessions map[int64]*Session

	lock    InFlightLock
	lockTTL time.Duration
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry uses a MemoryLock when lock is nil. ttl bounds idle sessions
// and lockTTL bounds a single acquisition.
func NewRegistry(lock InFlightLock, ttl, lockTTL time.Duration, logger *zap.Logger) *Registry {
	if lock == nil {
		lock = NewMemoryLock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Registry{
		sessions: make(map[int64]*Session),
		lock:     lock,
		lockTTL:  lockTTL,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Start replaces the requester's session with a fresh one, or rejects with
// ErrAcquisitionInFlight while an acquisition for them is running. A request
// whose ctx is already done gets ctx.Err() and changes nothing.
func (r *Registry) Start(ctx context.Context, requesterID int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[requesterID]; ok && cur.InFlight() {
		return nil, ErrAcquisitionInFlight
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	held, err := r.lock.Held(ctx, requesterID)
	if err != nil {
		r.logger.Warn("in-flight lock check failed", zap.Int64("requester_id", requesterID), zap.Error(err))
	}
	if held {
		return nil, ErrAcquisitionInFlight
	}
	s := newSession(uuid.NewString(), requesterID, r.now)
	r.sessions[requesterID] = s
	return s, nil
}

// Ensure returns the current session, starting one if there is none.
func (r *Registry) Ensure(ctx context.Context, requesterID int64) (*Session, error) {
	if s, ok := r.Get(requesterID); ok {
		return s, nil
	}
	return r.Start(ctx, requesterID)
}

func (r *Registry) Get(requesterID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[requesterID]
	return s, ok
}

// Discard drops the session if it is still the requester's current one. A
// running acquisition keeps its lock until EndAcquisition.
func (r *Registry) Discard(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.requesterID]; ok && cur == s {
		delete(r.sessions, s.requesterID)
	}
}

// BeginAcquisition marks s as producing a chart.
func (r *Registry) BeginAcquisition(ctx context.Context, s *Session) error {
	ok, err := r.lock.Acquire(ctx, s.requesterID, r.lockTTL)
	if err != nil {
		// a lock backend outage must not block chart requests
		r.logger.Warn("in-flight lock unavailable", zap.Int64("requester_id", s.requesterID), zap.Error(err))
		ok = true
	}
	if !ok {
		return ErrAcquisitionInFlight
	}
	s.mu.Lock()
	s.inFlight = true
	s.mu.Unlock()
	return nil
}

func (r *Registry) EndAcquisition(ctx context.Context, s *Session) {
	s.mu.Lock()
	s.inFlight = false
	s.lastActive = s.now()
	s.mu.Unlock()
	if err := r.lock.Release(ctx, s.requesterID); err != nil {
		r.logger.Warn("in-flight lock release failed", zap.Int64("requester_id", s.requesterID), zap.Error(err))
	}
}

// Expire drops sessions idle for longer than the registry ttl and returns how
// many were removed. Sessions with a running acquisition are kept.
func (r *Registry) Expire(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.InFlight() {
			continue
		}
		if now.Sub(s.LastActive()) > r.ttl {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
