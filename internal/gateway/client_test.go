package gateway

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// Fan-out sends run on other connections' read goroutines while the hub
// goroutine may be tearing the client down. Neither side may panic.
func TestClientSendCloseRace(t *testing.T) {
	c := NewClient(nil, nil, uuid.New())

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 2000; j++ {
				c.Send([]byte("payload"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		c.Close()
	}()

	close(start)
	wg.Wait()

	assert.False(t, c.Send([]byte("late")), "send after close must report not delivered")
	c.Close()

	select {
	case <-c.done:
	default:
		t.Fatal("done must be closed after Close")
	}
}

func TestClientSettings(t *testing.T) {
	t.Run("zero values fall back to defaults", func(t *testing.T) {
		s := Settings{}.withDefaults()
		assert.Equal(t, defaultWriteWait, s.WriteWait)
		assert.Equal(t, defaultPongWait, s.PongWait)
		assert.Equal(t, defaultSendBuffer, s.SendBuffer)
	})

	t.Run("hub settings reach the connection", func(t *testing.T) {
		hub := &Hub{settings: Settings{
			WriteWait:  5 * time.Second,
			PongWait:   30 * time.Second,
			SendBuffer: 16,
		}.withDefaults()}

		c := NewClient(hub, nil, uuid.New())
		assert.Equal(t, 16, cap(c.send))
		assert.Equal(t, 30*time.Second, c.settings.PongWait)
		assert.Equal(t, 27*time.Second, c.settings.pingPeriod())
	})
}
