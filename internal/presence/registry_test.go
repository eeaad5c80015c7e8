package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orgmessenger/internal/domain/user"
	"orgmessenger/pkg/logger"
)

type presenceWrite struct {
	userID   uuid.UUID
	isOnline bool
}

// fakeUserRepo records presence writes in order. Setting fail makes the next
// UpdatePresence calls return it.
type fakeUserRepo struct {
	mu     sync.Mutex
	writes []presenceWrite
	fail   error
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (user.User, error) {
	return user.User{ID: id}, nil
}

func (f *fakeUserRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]user.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) GetContacts(ctx context.Context, userID uuid.UUID) ([]user.User, error) {
	return nil, nil
}

func (f *fakeUserRepo) UpdatePresence(ctx context.Context, userID uuid.UUID, isOnline bool, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.writes = append(f.writes, presenceWrite{userID: userID, isOnline: isOnline})
	return nil
}

func (f *fakeUserRepo) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeUserRepo) recorded() []presenceWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]presenceWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

type fakeConn struct {
	id     string
	userID uuid.UUID

	mu   sync.Mutex
	sent [][]byte
	full bool
}

func newFakeConn(userID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New().String(), userID: userID}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) UserID() uuid.UUID { return c.userID }
func (c *fakeConn) Close()            {}

func (c *fakeConn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.sent = append(c.sent, payload)
	return true
}

func TestRegistryConnect(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("first connection flips online", func(t *testing.T) {
		repo := &fakeUserRepo{}
		reg := NewRegistry(repo, nil, logger.NewNop())

		first, err := reg.Connect(ctx, newFakeConn(userID))
		require.NoError(t, err)
		assert.True(t, first)
		assert.True(t, reg.IsOnline(userID))

		writes := repo.recorded()
		require.Len(t, writes, 1)
		assert.True(t, writes[0].isOnline)
	})

	t.Run("failed persist rolls back the registration", func(t *testing.T) {
		repo := &fakeUserRepo{}
		reg := NewRegistry(repo, nil, logger.NewNop())
		repo.setFail(errors.New("db down"))

		conn := newFakeConn(userID)
		first, err := reg.Connect(ctx, conn)
		require.Error(t, err)
		assert.False(t, first)
		assert.False(t, reg.IsOnline(userID))
		assert.Empty(t, reg.ConnectionsFor(userID))

		// The user can reconnect once the store recovers.
		repo.setFail(nil)
		first, err = reg.Connect(ctx, conn)
		require.NoError(t, err)
		assert.True(t, first)
		assert.True(t, reg.IsOnline(userID))

		writes := repo.recorded()
		require.Len(t, writes, 1)
		assert.True(t, writes[0].isOnline)
	})

	t.Run("second tab produces no transition", func(t *testing.T) {
		repo := &fakeUserRepo{}
		reg := NewRegistry(repo, nil, logger.NewNop())

		_, err := reg.Connect(ctx, newFakeConn(userID))
		require.NoError(t, err)
		first, err := reg.Connect(ctx, newFakeConn(userID))
		require.NoError(t, err)

		assert.False(t, first)
		assert.Len(t, repo.recorded(), 1)
		assert.Len(t, reg.ConnectionsFor(userID), 2)
	})
}

func TestRegistryDisconnect(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("last connection flips offline exactly once", func(t *testing.T) {
		repo := &fakeUserRepo{}
		reg := NewRegistry(repo, nil, logger.NewNop())

		a := newFakeConn(userID)
		b := newFakeConn(userID)
		_, err := reg.Connect(ctx, a)
		require.NoError(t, err)
		_, err = reg.Connect(ctx, b)
		require.NoError(t, err)

		last, _, err := reg.Disconnect(ctx, a)
		require.NoError(t, err)
		assert.False(t, last)
		assert.True(t, reg.IsOnline(userID))

		last, lastSeen, err := reg.Disconnect(ctx, b)
		require.NoError(t, err)
		assert.True(t, last)
		assert.False(t, lastSeen.IsZero())
		assert.False(t, reg.IsOnline(userID))

		writes := repo.recorded()
		require.Len(t, writes, 2)
		assert.True(t, writes[0].isOnline)
		assert.False(t, writes[1].isOnline)
	})

	t.Run("unknown connection is a no-op", func(t *testing.T) {
		repo := &fakeUserRepo{}
		reg := NewRegistry(repo, nil, logger.NewNop())

		last, _, err := reg.Disconnect(ctx, newFakeConn(userID))
		require.NoError(t, err)
		assert.False(t, last)
		assert.Empty(t, repo.recorded())
	})
}

func TestRegistryConcurrentConnections(t *testing.T) {
	ctx := context.Background()
	repo := &fakeUserRepo{}
	reg := NewRegistry(repo, nil, logger.NewNop())

	const users = 16
	const connsPerUser = 8

	ids := make([]uuid.UUID, users)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	conns := make([][]*fakeConn, users)
	for i := range ids {
		conns[i] = make([]*fakeConn, connsPerUser)
		for j := 0; j < connsPerUser; j++ {
			conns[i][j] = newFakeConn(ids[i])
		}
	}

	for i := range ids {
		for j := 0; j < connsPerUser; j++ {
			wg.Add(1)
			go func(c *fakeConn) {
				defer wg.Done()
				_, err := reg.Connect(ctx, c)
				assert.NoError(t, err)
			}(conns[i][j])
		}
	}
	wg.Wait()

	snapshot := reg.Snapshot()
	require.Len(t, snapshot, users)
	for _, id := range ids {
		assert.Equal(t, connsPerUser, snapshot[id])
	}

	for i := range ids {
		for j := 0; j < connsPerUser; j++ {
			wg.Add(1)
			go func(c *fakeConn) {
				defer wg.Done()
				_, _, err := reg.Disconnect(ctx, c)
				assert.NoError(t, err)
			}(conns[i][j])
		}
	}
	wg.Wait()

	assert.Empty(t, reg.Snapshot())
	// Exactly one online and one offline transition per user.
	writes := repo.recorded()
	assert.Len(t, writes, users*2)
}

func TestRegistryAllConnectionsExcludes(t *testing.T) {
	ctx := context.Background()
	repo := &fakeUserRepo{}
	reg := NewRegistry(repo, nil, logger.NewNop())

	alice := uuid.New()
	bob := uuid.New()

	_, err := reg.Connect(ctx, newFakeConn(alice))
	require.NoError(t, err)
	_, err = reg.Connect(ctx, newFakeConn(bob))
	require.NoError(t, err)

	conns := reg.AllConnections(alice)
	require.Len(t, conns, 1)
	assert.Equal(t, bob, conns[0].UserID())
}
