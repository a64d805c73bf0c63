package websocket

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/lottery-engine/internal/training"
	"github.com/stitts-dev/lottery-engine/internal/types"
)

func testHub() *Hub {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewHub(logger)
}

// addClient registers a client directly, bypassing the run loop
func addClient(h *Hub, strategyID uuid.UUID, buffer int) *Client {
	client := &Client{
		StrategyID: strategyID,
		Send:       make(chan []byte, buffer),
		Hub:        h,
	}
	h.mutex.Lock()
	h.clients[client] = true
	h.strategyClients[strategyID] = append(h.strategyClients[strategyID], client)
	h.mutex.Unlock()
	return client
}

func TestBroadcastToStrategyDeliversToSubscribers(t *testing.T) {
	h := testHub()
	strategyID := uuid.New()
	subscriber := addClient(h, strategyID, 4)
	firehose := addClient(h, uuid.Nil, 4)
	other := addClient(h, uuid.New(), 4)

	h.TrainingProgress(training.ProgressEvent{
		TrainingID: uuid.New(),
		StrategyID: strategyID,
		Status:     types.TrainingRunning,
		Timestamp:  time.Now(),
	})

	assert.Len(t, subscriber.Send, 1)
	assert.Len(t, firehose.Send, 1)
	assert.Empty(t, other.Send)
}

func TestSlowSubscriberIsEvictedNotResent(t *testing.T) {
	// A subscriber with no buffer space is dropped on the first
	// broadcast; the second broadcast must not touch its closed channel
	h := testHub()
	strategyID := uuid.New()
	slow := addClient(h, strategyID, 0)
	healthy := addClient(h, strategyID, 4)

	event := training.ProgressEvent{
		TrainingID: uuid.New(),
		StrategyID: strategyID,
		Status:     types.TrainingRunning,
		Timestamp:  time.Now(),
	}

	require.NotPanics(t, func() {
		h.TrainingProgress(event)
		h.TrainingProgress(event)
	})

	assert.Equal(t, 1, h.GetConnectionCount())
	assert.Len(t, healthy.Send, 2)

	h.mutex.RLock()
	subscribers := h.strategyClients[strategyID]
	h.mutex.RUnlock()
	require.Len(t, subscribers, 1)
	assert.Same(t, healthy, subscribers[0])
	_, open := <-slow.Send
	assert.False(t, open)
}

func TestEvictLockedIsIdempotent(t *testing.T) {
	h := testHub()
	client := addClient(h, uuid.New(), 0)

	h.mutex.Lock()
	h.evictLocked(client)
	require.NotPanics(t, func() { h.evictLocked(client) })
	h.mutex.Unlock()

	assert.Equal(t, 0, h.GetConnectionCount())
}
