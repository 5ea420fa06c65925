package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "willvault/pkg/domain"
	audit "willvault/pkg/platform/audit"
	"willvault/pkg/platform/audit/store/memory"
)

func TestConsumer_HandleStoresEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	c := New(nil, store, nil)

	willID := id.WillID(uuid.New())
	event := audit.Event{ID: uuid.New(), WillID: willID, Action: string(audit.EventWillCreated)}
	value, err := json.Marshal(event)
	require.NoError(t, err)

	record := &kgo.Record{Key: []byte(willID.String()), Value: value}
	require.NoError(t, c.Handle(context.Background(), record))
	require.NoError(t, c.Handle(context.Background(), record), "replay must be harmless")

	events, err := store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.ID, events[0].ID)
}

func TestConsumer_HandleSkipsMalformed(t *testing.T) {
	store := memory.NewInMemoryStore()
	c := New(nil, store, nil)

	assert.NoError(t, c.Handle(context.Background(), &kgo.Record{Value: []byte("{not json")}))
	assert.NoError(t, c.Handle(context.Background(), &kgo.Record{Value: []byte(`{"action":""}`)}))

	recent, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

type scriptedFetcher struct {
	polls   []kgo.Fetches
	commits int
}

func (f *scriptedFetcher) PollFetches(context.Context) kgo.Fetches {
	if len(f.polls) == 0 {
		return kgo.NewErrFetch(kgo.ErrClientClosed)
	}
	next := f.polls[0]
	f.polls = f.polls[1:]
	return next
}

func (f *scriptedFetcher) CommitUncommittedOffsets(context.Context) error {
	f.commits++
	return nil
}

// flakyStore rejects appends until it has failed `failures` times.
type flakyStore struct {
	*memory.InMemoryStore
	mu       sync.Mutex
	failures int
	attempts int
}

func (s *flakyStore) Append(ctx context.Context, event audit.Event) error {
	s.mu.Lock()
	s.attempts++
	fail := s.attempts <= s.failures
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset by peer")
	}
	return s.InMemoryStore.Append(ctx, event)
}

func fetchOf(t *testing.T, events ...audit.Event) kgo.Fetches {
	t.Helper()
	records := make([]*kgo.Record, 0, len(events))
	for i, e := range events {
		value, err := json.Marshal(e)
		require.NoError(t, err)
		records = append(records, &kgo.Record{Key: []byte(e.WillID.String()), Value: value, Offset: int64(i)})
	}
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "will-audit",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func TestConsumer_RunSurvivesStoreFailure(t *testing.T) {
	willID := id.WillID(uuid.New())
	first := audit.Event{ID: uuid.New(), WillID: willID, Action: string(audit.EventWillCreated)}
	second := audit.Event{ID: uuid.New(), WillID: willID, Action: string(audit.EventAssetRegistered)}

	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 2}
	fetcher := &scriptedFetcher{polls: []kgo.Fetches{fetchOf(t, first), fetchOf(t, second)}}
	c := New(fetcher, store, nil, WithRetryInterval(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, c.Run(context.Background()))

	events, err := store.ListByWill(context.Background(), willID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 4, store.attempts)
	assert.Equal(t, 2, fetcher.commits)
}

func TestConsumer_RunStopsRetryingWhenCancelled(t *testing.T) {
	willID := id.WillID(uuid.New())
	store := &flakyStore{InMemoryStore: memory.NewInMemoryStore(), failures: 1 << 30}
	fetcher := &scriptedFetcher{polls: []kgo.Fetches{fetchOf(t, audit.Event{ID: uuid.New(), WillID: willID, Action: "x"})}}
	c := New(fetcher, store, nil, WithRetryInterval(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, fetcher.commits)
}
