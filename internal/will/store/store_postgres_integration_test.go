//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"willvault/internal/will/models"
	"willvault/internal/will/store"
	id "willvault/pkg/domain"
	"willvault/pkg/platform/sentinel"
	"willvault/pkg/testutil/containers"
)

const (
	owner = id.Address("0xa11ce")
	heir  = id.Address("0xb0b")
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB, 5*time.Second)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_events", "wills")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newWill(addr id.Address) *models.Will {
	w, err := models.NewWill(id.WillID(uuid.New()), addr, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return w
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	w := s.newWill(owner)
	s.Require().NoError(s.store.Create(ctx, w))

	found, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(w.ID, found.ID)
	s.Equal(owner, found.Owner)
	s.False(found.Verification.IsVerified())

	s.ErrorIs(s.store.Create(ctx, w), sentinel.ErrConflict)

	_, err = s.store.FindByID(ctx, id.WillID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExecuteRoundTripsDocument() {
	ctx := context.Background()
	w := s.newWill(owner)
	s.Require().NoError(s.store.Create(ctx, w))

	_, err := s.store.Execute(ctx, w.ID, func(_ context.Context, will *models.Will) error {
		now := time.Now()
		if err := will.AddBeneficiary(owner, heir, 60, "Bob", now); err != nil {
			return err
		}
		asset, err := will.ApplyAssetRegistration(models.Deposit{ObjectID: "obj-1", Value: 1000}, now)
		if err != nil {
			return err
		}
		if err := will.StoreKey(owner, asset.ID, []byte("sealed"), now); err != nil {
			return err
		}
		return will.Verify("0xadmin", &models.AdminCapability{ID: uuid.New(), Holder: "0xadmin"}, now)
	})
	s.Require().NoError(err)

	found, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(uint64(60), found.Beneficiaries.Total())
	s.Require().Len(found.Custody.Snapshot(), 1)
	s.Equal(uint64(1000), found.Custody.Snapshot()[0].Value)
	s.True(found.Verification.IsVerified())
	s.Equal(id.Address("0xadmin"), found.Verification.VerifiedBy())

	data, err := found.AccessKey(heir, found.Custody.Snapshot()[0].ID)
	s.Require().NoError(err)
	s.Equal([]byte("sealed"), data)
}

func (s *PostgresStoreSuite) TestExecuteRollsBackOnError() {
	ctx := context.Background()
	w := s.newWill(owner)
	s.Require().NoError(s.store.Create(ctx, w))
	boom := errors.New("boom")

	_, err := s.store.Execute(ctx, w.ID, func(_ context.Context, will *models.Will) error {
		_ = will.Revoke(owner, time.Now())
		return boom
	})
	s.ErrorIs(err, boom)

	found, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.True(found.IsActive())
}

// TestConcurrentExecuteRespectsShareCap verifies that row locking serializes
// writers across connections.
func (s *PostgresStoreSuite) TestConcurrentExecuteRespectsShareCap() {
	ctx := context.Background()
	w := s.newWill(owner)
	s.Require().NoError(s.store.Create(ctx, w))

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.store.Execute(ctx, w.ID, func(_ context.Context, will *models.Will) error {
				return will.AddBeneficiary(owner, heir, 30, "", time.Now())
			})
		}()
	}
	wg.Wait()

	found, err := s.store.FindByID(ctx, w.ID)
	s.Require().NoError(err)
	s.Equal(uint64(90), found.Beneficiaries.Total())
}

func (s *PostgresStoreSuite) TestListByParticipant() {
	ctx := context.Background()
	mine := s.newWill(owner)
	named := s.newWill("0xc0ffee")
	s.Require().NoError(named.AddBeneficiary("0xc0ffee", owner, 10, "", time.Now()))
	unrelated := s.newWill("0xdead")
	for _, w := range []*models.Will{mine, named, unrelated} {
		s.Require().NoError(s.store.Create(ctx, w))
	}

	wills, err := s.store.ListByParticipant(ctx, owner)
	s.Require().NoError(err)
	ids := []id.WillID{}
	for _, w := range wills {
		ids = append(ids, w.ID)
	}
	s.ElementsMatch([]id.WillID{mine.ID, named.ID}, ids)
}
