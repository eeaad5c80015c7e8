package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgmessenger/internal/repository"
	"orgmessenger/pkg/logger"
)

// Conn is one live client connection. The gateway's websocket client
// implements it; a future sharded registry only needs to honor the same
// contract for connection-to-user resolution.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	// Send enqueues a payload without blocking; false means the connection's
	// buffer was full and the payload was dropped for this connection.
	Send(payload []byte) bool
	Close()
}

const shardCount = 64

type shard struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[string]Conn
}

// Registry is the authoritative userID -> live connections mapping. A user
// is online iff they hold at least one connection; offline users have no
// entry at all. Mutations are atomic per user via shard locks, and no lock
// is ever held across storage I/O.
type Registry struct {
	shards [shardCount]*shard
	users  repository.UserRepository
	mirror *Mirror
	logger *logger.Logger
}

func NewRegistry(users repository.UserRepository, mirror *Mirror, log *logger.Logger) *Registry {
	r := &Registry{
		users:  users,
		mirror: mirror,
		logger: log,
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[uuid.UUID]map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID uuid.UUID) *shard {
	// First byte spreads v4 UUIDs evenly.
	return r.shards[int(userID[0])%shardCount]
}

// Connect registers a connection. It returns first=true when this is the
// user's first live connection; the persisted online flag is already written
// by then, so peers reacting to the broadcast never observe stale state.
func (r *Registry) Connect(ctx context.Context, conn Conn) (first bool, err error) {
	userID := conn.UserID()
	s := r.shardFor(userID)

	s.mu.Lock()
	conns, ok := s.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		s.users[userID] = conns
		first = true
	}
	conns[conn.ID()] = conn
	s.mu.Unlock()

	if !first {
		return false, nil
	}

	now := time.Now()
	if err := r.users.UpdatePresence(ctx, userID, true, now); err != nil {
		// Undo the registration so IsOnline never reports a user whose
		// online flag was not written.
		s.mu.Lock()
		if conns, ok := s.users[userID]; ok {
			delete(conns, conn.ID())
			if len(conns) == 0 {
				delete(s.users, userID)
			}
		}
		s.mu.Unlock()
		return false, err
	}
	if r.mirror != nil {
		if merr := r.mirror.SetOnline(ctx, userID, now); merr != nil && r.logger != nil {
			r.logger.Warnf("presence mirror set online: %v", merr)
		}
	}
	return true, nil
}

// Disconnect removes a connection. It returns last=true with the recorded
// last-seen time when the user's final connection went away; exactly one
// offline transition is produced per online period.
func (r *Registry) Disconnect(ctx context.Context, conn Conn) (last bool, lastSeen time.Time, err error) {
	userID := conn.UserID()
	s := r.shardFor(userID)

	s.mu.Lock()
	conns, ok := s.users[userID]
	if ok {
		if _, present := conns[conn.ID()]; present {
			delete(conns, conn.ID())
			if len(conns) == 0 {
				delete(s.users, userID)
				last = true
			}
		}
	}
	s.mu.Unlock()

	if !last {
		return false, time.Time{}, nil
	}

	lastSeen = time.Now()
	if err := r.users.UpdatePresence(ctx, userID, false, lastSeen); err != nil {
		return true, lastSeen, err
	}
	if r.mirror != nil {
		if merr := r.mirror.SetOffline(ctx, userID, lastSeen); merr != nil && r.logger != nil {
			r.logger.Warnf("presence mirror set offline: %v", merr)
		}
	}
	return true, lastSeen, nil
}

func (r *Registry) IsOnline(userID uuid.UUID) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of the user's live connections.
func (r *Registry) ConnectionsFor(userID uuid.UUID) []Conn {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// AllConnections snapshots every live connection, optionally excluding one
// user. Used for presence transition broadcasts.
func (r *Registry) AllConnections(exclude uuid.UUID) []Conn {
	var out []Conn
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, conns := range s.users {
			if userID == exclude {
				continue
			}
			for _, c := range conns {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Snapshot returns connection counts per online user.
func (r *Registry) Snapshot() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, conns := range s.users {
			out[userID] = len(conns)
		}
		s.mu.RUnlock()
	}
	return out
}
