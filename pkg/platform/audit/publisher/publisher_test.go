package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/audit/store/memory"
)

func newWillID() id.WillID { return id.WillID(uuid.New()) }

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	willID := newWillID()
	err := pub.Emit(context.Background(), audit.Event{
		WillID: willID,
		Action: string(audit.EventWillCreated),
	})
	require.NoError(t, err)

	events, err := pub.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventWillCreated), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.NotEqual(t, uuid.Nil, events[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	willID := newWillID()
	err := pub.Emit(context.Background(), audit.Event{
		WillID: willID,
		Action: string(audit.EventKeyStored),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.ListByWill(context.Background(), willID)
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	willID := newWillID()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			WillID: willID,
			Action: string(audit.EventAssetRegistered),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{WillID: newWillID(), Action: "x"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	willID := newWillID()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{
				WillID: willID,
				Action: string(audit.EventWillCreated),
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	willID := newWillID()
	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		WillID: willID,
		Action: string(audit.EventWillCreated),
	}))
	after := time.Now()

	events, err := pub.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.False(t, events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	willID := newWillID()
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		WillID:    willID,
		Action:    string(audit.EventWillCreated),
		Timestamp: customTime,
	}))

	events, err := pub.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_MultipleEventsKeepOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	willID := newWillID()
	actions := []audit.AuditEvent{
		audit.EventWillCreated,
		audit.EventAssetRegistered,
		audit.EventBeneficiaryAdded,
	}
	for _, a := range actions {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{WillID: willID, Action: string(a)}))
	}

	result, err := pub.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, result, 3)
	for i, a := range actions {
		assert.Equal(t, string(a), result[i].Action)
	}
}

func TestPublisher_DifferentWills(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	will1, will2 := newWillID(), newWillID()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{WillID: will1, Action: string(audit.EventWillCreated)}))
	require.NoError(t, pub.Emit(context.Background(), audit.Event{WillID: will2, Action: string(audit.EventWillRevoked)}))

	events1, err := pub.ListByWill(context.Background(), will1)
	require.NoError(t, err)
	require.Len(t, events1, 1)
	assert.Equal(t, string(audit.EventWillCreated), events1[0].Action)

	events2, err := pub.ListByWill(context.Background(), will2)
	require.NoError(t, err)
	require.Len(t, events2, 1)
	assert.Equal(t, string(audit.EventWillRevoked), events2[0].Action)
}

func TestPublisher_SinkReceivesPersistedEvents(t *testing.T) {
	sink := &recordingSink{}
	pub := NewPublisher(memory.NewInMemoryStore(), WithSink(sink))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{WillID: newWillID(), Action: string(audit.EventWillVerified)}))
	require.Len(t, sink.events, 1)
	assert.Equal(t, string(audit.EventWillVerified), sink.events[0].Action)
}

func TestPublisher_SinkFailureDoesNotFailEmit(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	pub := NewPublisher(memory.NewInMemoryStore(), WithSink(sink))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{WillID: newWillID(), Action: string(audit.EventWillVerified)})
	assert.NoError(t, err)
}

// countingStore counts appends on top of the in-memory store.
type countingStore struct {
	*memory.InMemoryStore
	appends int
}

func (s *countingStore) Append(ctx context.Context, e audit.Event) error {
	s.appends++
	return s.InMemoryStore.Append(ctx, e)
}

func TestPublisher_StageIsInvisibleUntilPublish(t *testing.T) {
	sink := &recordingSink{}
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()
	willID := newWillID()

	staged, err := pub.Stage(context.Background(), audit.Event{WillID: willID, Action: string(audit.EventAssetsDistributed)})
	require.NoError(t, err)
	assert.False(t, staged.Persisted)
	assert.NotEqual(t, uuid.Nil, staged.Event.ID)
	assert.Equal(t, audit.CategoryCompliance, staged.Event.Category)

	events, err := store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	assert.Empty(t, events, "a staged event must not reach the store before publish")
	assert.Empty(t, sink.events, "a staged event must not reach sinks before publish")

	require.NoError(t, pub.Publish(context.Background(), []audit.Staged{staged}))
	events, err = store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, sink.events, 1)
}

func TestPublisher_OutboxWithoutTransactionDefersWrite(t *testing.T) {
	store := &countingStore{InMemoryStore: memory.NewInMemoryStore()}
	pub := NewPublisher(store, WithOutbox())
	defer pub.Close()

	staged, err := pub.Stage(context.Background(), audit.Event{WillID: newWillID(), Action: string(audit.EventWillCreated)})
	require.NoError(t, err)
	assert.False(t, staged.Persisted)
	assert.Zero(t, store.appends)

	require.NoError(t, pub.Publish(context.Background(), []audit.Staged{staged}))
	assert.Equal(t, 1, store.appends)
}

func TestPublisher_PersistedEventsOnlyReachSinks(t *testing.T) {
	sink := &recordingSink{}
	store := &countingStore{InMemoryStore: memory.NewInMemoryStore()}
	pub := NewPublisher(store, WithSink(sink))
	defer pub.Close()

	event := audit.Event{ID: uuid.New(), WillID: newWillID(), Action: string(audit.EventWillVerified)}
	require.NoError(t, pub.Publish(context.Background(), []audit.Staged{{Event: event, Persisted: true}}))
	assert.Zero(t, store.appends)
	require.Len(t, sink.events, 1)
	assert.Equal(t, event.ID, sink.events[0].ID)
}

func TestInMemoryStore_IdempotentOnID(t *testing.T) {
	store := memory.NewInMemoryStore()
	willID := newWillID()
	event := audit.Event{ID: uuid.New(), WillID: willID, Action: "x"}

	require.NoError(t, store.Append(context.Background(), event))
	require.NoError(t, store.Append(context.Background(), event))

	events, err := store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
