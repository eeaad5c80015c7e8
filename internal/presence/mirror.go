package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Status is the mirrored presence record.
type Status struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Redis keys for mirrored presence
const (
	statusKeyPrefix = "presence:"
	onlineSetKey    = "presence:online"
	transitionsChan = "presence.events"
)

// Mirror keeps a best-effort copy of presence state in Redis and publishes
// transitions. The in-process Registry stays the single authority; the
// mirror is the seam a multi-process deployment would subscribe to.
type Mirror struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewMirror(client *goredis.Client, ttl time.Duration) *Mirror {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Mirror{client: client, ttl: ttl}
}

func (m *Mirror) SetOnline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return m.write(ctx, Status{UserID: userID.String(), IsOnline: true, LastSeen: at})
}

func (m *Mirror) SetOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return m.write(ctx, Status{UserID: userID.String(), IsOnline: false, LastSeen: at})
}

func (m *Mirror) write(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, statusKeyPrefix+status.UserID, data, m.ttl)
	if status.IsOnline {
		pipe.SAdd(ctx, onlineSetKey, status.UserID)
	} else {
		pipe.SRem(ctx, onlineSetKey, status.UserID)
	}
	pipe.Publish(ctx, transitionsChan, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Get reads the mirrored status for a user, if present.
func (m *Mirror) Get(ctx context.Context, userID uuid.UUID) (Status, bool, error) {
	data, err := m.client.Get(ctx, statusKeyPrefix+userID.String()).Bytes()
	if err == goredis.Nil {
		return Status{}, false, nil
	}
	if err != nil {
		return Status{}, false, err
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, false, err
	}
	return status, true, nil
}
