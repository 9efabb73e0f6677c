package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cf-hub/cf-goal-hub/internal/domain/shared"
)

func syncBusConfig() InMemoryEventBusConfig {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return cfg
}

func TestInMemoryBusDeliversByType(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer func() { _ = bus.Close() }()

	var got []shared.Event
	require.NoError(t, bus.Subscribe(shared.EventSolveRecorded, func(e shared.Event) error {
		got = append(got, e)
		return nil
	}))

	var other int
	require.NoError(t, bus.Subscribe(shared.EventGoalAchieved, func(shared.Event) error {
		other++
		return nil
	}))

	event := shared.NewSolveRecordedEvent(shared.UserID(1), "1850A", 800, 3)
	require.NoError(t, bus.Publish(event))

	require.Len(t, got, 1)
	assert.Equal(t, shared.EventSolveRecorded, got[0].EventType())
	assert.Zero(t, other, "handler for a different type must not fire")
}

func TestInMemoryBusSubscribeAll(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	defer func() { _ = bus.Close() }()

	var types []shared.EventType
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		types = append(types, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSolveRecordedEvent(shared.UserID(1), "1850A", 800, 1)))
	require.NoError(t, bus.Publish(shared.NewStreakExtendedEvent(shared.UserID(1), 5, 9)))

	assert.Equal(t, []shared.EventType{shared.EventSolveRecorded, shared.EventStreakExtended}, types)
}

func TestInMemoryBusAsyncDelivery(t *testing.T) {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = true
	bus := NewInMemoryEventBus(cfg)

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Subscribe(shared.EventSolveRecorded, func(shared.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewSolveRecordedEvent(shared.UserID(1), "1850A", 800, i)))
	}

	// Close waits for in-flight handlers.
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestInMemoryBusClosed(t *testing.T) {
	bus := NewInMemoryEventBus(syncBusConfig())
	require.NoError(t, bus.Close())

	err := bus.Publish(shared.NewSolveRecordedEvent(shared.UserID(1), "1850A", 800, 1))
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventSolveRecorded, func(shared.Event) error { return nil })
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

// ──────────────────────────────────────────────────────────────────────────────
// REDIS EVENT BUS
// ──────────────────────────────────────────────────────────────────────────────

// fakeRedisClient captures published payloads and lets the test inject
// messages as if they arrived from another instance.
type fakeRedisClient struct {
	mu        sync.Mutex
	published []string
	incoming  chan RedisMessage
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{incoming: make(chan RedisMessage, 16)}
}

func (c *fakeRedisClient) Publish(_ context.Context, _ string, message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, message.(string))
	return nil
}

func (c *fakeRedisClient) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	return c.incoming, nil
}

func (c *fakeRedisClient) Close() error { return nil }

func (c *fakeRedisClient) lastPublished(t *testing.T) eventEnvelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.published)

	var env eventEnvelope
	require.NoError(t, json.Unmarshal([]byte(c.published[len(c.published)-1]), &env))
	return env
}

func TestRedisBusPublishesEnvelope(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "worker-1",
		LocalBusConfig: syncBusConfig(),
	})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	var local int
	require.NoError(t, bus.Subscribe(shared.EventStreakExtended, func(shared.Event) error {
		local++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewStreakExtendedEvent(shared.UserID(7), 3, 3)))

	env := client.lastPublished(t)
	assert.Equal(t, "worker-1", env.InstanceID)
	assert.Equal(t, shared.EventStreakExtended, env.EventType)
	assert.Equal(t, 1, local, "publish also fans out locally")
}

func TestRedisBusIgnoresOwnEvents(t *testing.T) {
	client := newFakeRedisClient()
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "worker-1",
		LocalBusConfig: syncBusConfig(),
	})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	received := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		received <- e
		return nil
	}))

	remote := func(instanceID string) string {
		data, mErr := json.Marshal(eventEnvelope{
			InstanceID:  instanceID,
			EventType:   shared.EventContestEnded,
			AggregateID: "c-1",
			OccurredAt:  time.Now(),
		})
		require.NoError(t, mErr)
		return string(data)
	}

	// An echo of our own publish must be dropped, a foreign one delivered.
	client.incoming <- RedisMessage{Payload: remote("worker-1")}
	client.incoming <- RedisMessage{Payload: remote("bot-1")}

	select {
	case e := <-received:
		assert.Equal(t, shared.EventContestEnded, e.EventType())
		assert.Equal(t, "c-1", e.AggregateID())
	case <-time.After(2 * time.Second):
		t.Fatal("remote event never delivered")
	}

	select {
	case <-received:
		t.Fatal("self-published event must be filtered out")
	case <-time.After(100 * time.Millisecond):
	}
}
