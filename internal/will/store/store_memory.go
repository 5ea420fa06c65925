package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"willvault/internal/will/models"
	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
	"willvault/pkg/platform/sentinel"
)

// numWillShards spreads per-will writer locks so unrelated wills do not
// contend on one mutex.
const numWillShards = 128

const defaultExecuteTimeout = 5 * time.Second

// InMemoryStore keeps wills in a map. Execute serializes writers of the same
// will with a sharded mutex and commits a mutated clone only when the
// callback succeeds.
type InMemoryStore struct {
	shards  [numWillShards]sync.Mutex
	mu      sync.RWMutex
	wills   map[id.WillID]*models.Will
	timeout time.Duration
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		wills:   make(map[id.WillID]*models.Will),
		timeout: defaultExecuteTimeout,
	}
}

func (s *InMemoryStore) Create(_ context.Context, will *models.Will) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wills[will.ID]; ok {
		return sentinel.ErrConflict
	}
	s.wills[will.ID] = will.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, willID id.WillID) (*models.Will, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	will, ok := s.wills[willID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return will.Clone(), nil
}

// ListByParticipant returns wills where addr is the owner or a beneficiary,
// oldest first.
func (s *InMemoryStore) ListByParticipant(_ context.Context, addr id.Address) ([]*models.Will, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Will, 0)
	for _, will := range s.wills {
		if slices.Contains(will.Participants(), addr) {
			out = append(out, will.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Will) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareWillIDs(a.ID, b.ID)
	})
	return out, nil
}

// Execute runs fn on a private copy of the will while holding its shard
// lock. The copy replaces the stored will only if fn returns nil.
func (s *InMemoryStore) Execute(ctx context.Context, willID id.WillID, fn func(ctx context.Context, will *models.Will) error) (*models.Will, error) {
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	shard := &s.shards[hashWillID(willID)%numWillShards]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	current, err := s.FindByID(ctx, willID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, current); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.wills[willID] = current.Clone()
	s.mu.Unlock()
	return current, nil
}

// hashWillID is FNV-1a over the id bytes.
func hashWillID(willID id.WillID) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range willID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}

func compareWillIDs(a, b id.WillID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
