package models

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "willvault/pkg/domain"
	dErrors "willvault/pkg/domain-errors"
)

const (
	owner    id.Address = "0xaa"
	alice    id.Address = "0xb1"
	bob      id.Address = "0xb2"
	stranger id.Address = "0xcc"
	verifier id.Address = "0xdd"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestWill(t *testing.T) *Will {
	t.Helper()
	w, err := NewWill(id.WillID(uuid.New()), owner, now)
	require.NoError(t, err)
	return w
}

func adminCap() *AdminCapability {
	return &AdminCapability{ID: uuid.New(), Holder: verifier, IssuedAt: now}
}

func registerAsset(t *testing.T, w *Will, objectID string, value uint64) Asset {
	t.Helper()
	require.NoError(t, w.CanRegisterAsset(owner))
	asset, err := w.ApplyAssetRegistration(Deposit{ObjectID: objectID, Value: value}, now)
	require.NoError(t, err)
	return asset
}

func requireCode(t *testing.T, err error, code dErrors.Code) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestNewWill(t *testing.T) {
	w := newTestWill(t)
	assert.True(t, w.IsActive())
	assert.False(t, w.Verification.IsVerified())
	assert.Empty(t, w.Beneficiaries)
	assert.Empty(t, w.Custody.Order)

	_, err := NewWill(id.WillID(uuid.New()), "", now)
	requireCode(t, err, dErrors.CodeInvariantViolation)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusActive.CanTransitionTo(StatusInactive))
	assert.False(t, StatusInactive.CanTransitionTo(StatusActive))
	assert.False(t, StatusInactive.CanTransitionTo(StatusInactive))
}

func TestOwnerMutationsCheckOwnerBeforeActive(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.Revoke(owner, now))

	requireCode(t, w.CanRegisterAsset(stranger), dErrors.CodeNotOwner)
	requireCode(t, w.CanRegisterAsset(owner), dErrors.CodeWillInactive)
	requireCode(t, w.AddBeneficiary(stranger, alice, 10, "a", now), dErrors.CodeNotOwner)
	requireCode(t, w.AddBeneficiary(owner, alice, 10, "a", now), dErrors.CodeWillInactive)
	requireCode(t, w.Revoke(owner, now), dErrors.CodeWillInactive)
	requireCode(t, w.Revoke(stranger, now), dErrors.CodeNotOwner)
}

func TestAddBeneficiary(t *testing.T) {
	t.Run("share above 100 is rejected before total", func(t *testing.T) {
		w := newTestWill(t)
		requireCode(t, w.AddBeneficiary(owner, alice, 101, "alice", now), dErrors.CodeInvalidShare)
		assert.Empty(t, w.Beneficiaries)
	})

	t.Run("total above 100 is rejected", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 60, "alice", now))
		requireCode(t, w.AddBeneficiary(owner, bob, 41, "bob", now), dErrors.CodeInvalidShare)
		require.NoError(t, w.AddBeneficiary(owner, bob, 40, "bob", now))
		assert.Equal(t, uint64(100), w.Beneficiaries.Total())
	})

	t.Run("duplicates are accepted and count toward the total", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 30, "first", now))
		require.NoError(t, w.AddBeneficiary(owner, alice, 20, "second", now))
		assert.Len(t, w.Beneficiaries, 2)
		assert.Equal(t, uint64(50), w.Beneficiaries.Total())
	})
}

func TestUpdateBeneficiaryShare(t *testing.T) {
	t.Run("updates only the first match", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 30, "first", now))
		require.NoError(t, w.AddBeneficiary(owner, alice, 20, "second", now))

		old, err := w.UpdateBeneficiaryShare(owner, alice, 50, now)
		require.NoError(t, err)
		assert.Equal(t, uint8(30), old)
		assert.Equal(t, uint8(50), w.Beneficiaries[0].SharePercentage)
		assert.Equal(t, uint8(20), w.Beneficiaries[1].SharePercentage)
		assert.Equal(t, uint64(70), w.Beneficiaries.Total())
	})

	t.Run("total accounts for exactly one removed share", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 40, "alice", now))
		require.NoError(t, w.AddBeneficiary(owner, bob, 60, "bob", now))

		_, err := w.UpdateBeneficiaryShare(owner, alice, 41, now)
		requireCode(t, err, dErrors.CodeInvalidShare)
		assert.Equal(t, uint8(40), w.Beneficiaries[0].SharePercentage, "failed update leaves share unchanged")

		_, err = w.UpdateBeneficiaryShare(owner, alice, 0, now)
		require.NoError(t, err)
	})

	t.Run("error precedence", func(t *testing.T) {
		w := newTestWill(t)
		_, err := w.UpdateBeneficiaryShare(owner, alice, 101, now)
		requireCode(t, err, dErrors.CodeInvalidShare)
		_, err = w.UpdateBeneficiaryShare(owner, alice, 10, now)
		requireCode(t, err, dErrors.CodeBeneficiaryNotFound)
		_, err = w.UpdateBeneficiaryShare(stranger, alice, 10, now)
		requireCode(t, err, dErrors.CodeNotOwner)
	})
}

// Random add/update sequences never push the total past 100.
func TestShareTotalNeverExceedsCap(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	addrs := []id.Address{alice, bob, "0xb3", "0xb4"}

	for run := 0; run < 200; run++ {
		w := newTestWill(t)
		for step := 0; step < 30; step++ {
			addr := addrs[r.IntN(len(addrs))]
			share := uint64(r.IntN(130))
			if r.IntN(2) == 0 {
				_ = w.AddBeneficiary(owner, addr, share, "", now)
			} else {
				_, _ = w.UpdateBeneficiaryShare(owner, addr, share, now)
			}
			require.LessOrEqual(t, w.Beneficiaries.Total(), uint64(MaxShare))
		}
	}
}

func TestRegisterAssetAndReadBack(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 10, "alice", now))
	asset := registerAsset(t, w, "coin-1", 1000)

	assert.Equal(t, id.DeriveAssetID("coin-1"), asset.ID)
	assert.Equal(t, AssetTypeToken, asset.Type)

	assets, err := w.AssetsFor(owner)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, uint64(1000), assets[0].Value)
	assert.Equal(t, uint64(1000), w.Custody.Balances[asset.ID])

	_, err = w.AssetsFor(alice)
	require.NoError(t, err)
	_, err = w.AssetsFor(stranger)
	requireCode(t, err, dErrors.CodeUnauthorized)

	_, err = w.ApplyAssetRegistration(Deposit{ObjectID: "coin-1", Value: 5}, now)
	requireCode(t, err, dErrors.CodeConflict)
}

func TestAssetsKeepRegistrationOrder(t *testing.T) {
	w := newTestWill(t)
	first := registerAsset(t, w, "z", 1)
	second := registerAsset(t, w, "a", 2)
	third := registerAsset(t, w, "m", 3)

	assets, err := w.AssetsFor(owner)
	require.NoError(t, err)
	require.Len(t, assets, 3)
	assert.Equal(t, []id.AssetID{first.ID, second.ID, third.ID},
		[]id.AssetID{assets[0].ID, assets[1].ID, assets[2].ID})
}

func TestStoreKey(t *testing.T) {
	w := newTestWill(t)
	unregistered := id.DeriveAssetID("missing")
	requireCode(t, w.StoreKey(owner, unregistered, []byte("k"), now), dErrors.CodeAssetNotFound)

	asset := registerAsset(t, w, "coin", 10)
	require.NoError(t, w.StoreKey(owner, asset.ID, []byte("secret"), now))
	requireCode(t, w.StoreKey(owner, asset.ID, []byte("other"), now), dErrors.CodeConflict)

	keys, err := w.EncryptedKeysFor(owner)
	require.NoError(t, err)
	assert.Equal(t, []id.AssetID{asset.ID}, keys)

	_, err = w.EncryptedKeysFor(stranger)
	requireCode(t, err, dErrors.CodeUnauthorized)
}

func TestStoreKeyCopiesInput(t *testing.T) {
	w := newTestWill(t)
	asset := registerAsset(t, w, "coin", 10)
	data := []byte("secret")
	require.NoError(t, w.StoreKey(owner, asset.ID, data, now))
	data[0] = 'X'
	assert.Equal(t, []byte("secret"), w.Keys[asset.ID].EncryptedData)
}

func TestVerify(t *testing.T) {
	t.Run("second verification fails", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.Verify(verifier, adminCap(), now))
		assert.True(t, w.Verification.IsVerified())
		assert.Equal(t, verifier, w.Verification.VerifiedBy())
		assert.Equal(t, now, w.Verification.VerifiedAt())

		requireCode(t, w.Verify(stranger, adminCap(), now.Add(time.Hour)), dErrors.CodeAlreadyVerified)
		assert.Equal(t, verifier, w.Verification.VerifiedBy())
	})

	t.Run("already verified is checked before the credential", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.Verify(verifier, adminCap(), now))
		requireCode(t, w.Verify(verifier, nil, now), dErrors.CodeAlreadyVerified)
	})

	t.Run("missing credential", func(t *testing.T) {
		w := newTestWill(t)
		requireCode(t, w.Verify(verifier, nil, now), dErrors.CodeNotAdmin)
		requireCode(t, w.Verify(verifier, &AdminCapability{}, now), dErrors.CodeNotAdmin)
		assert.False(t, w.Verification.IsVerified())
	})

	t.Run("revoked will can still be verified", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.Revoke(owner, now))
		require.NoError(t, w.Verify(verifier, adminCap(), now))
	})
}

func TestAccessKey(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 50, "alice", now))
	asset := registerAsset(t, w, "coin", 10)
	require.NoError(t, w.StoreKey(owner, asset.ID, []byte("secret"), now))

	_, err := w.AccessKey(alice, asset.ID)
	requireCode(t, err, dErrors.CodeNotVerified)

	require.NoError(t, w.Verify(verifier, adminCap(), now))

	_, err = w.AccessKey(alice, id.DeriveAssetID("other"))
	requireCode(t, err, dErrors.CodeAssetNotFound)

	_, err = w.AccessKey(stranger, asset.ID)
	requireCode(t, err, dErrors.CodeUnauthorized)

	for range 3 {
		data, err := w.AccessKey(alice, asset.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("secret"), data)
	}
	assert.False(t, w.Keys[asset.ID].AccessGranted)

	keys, err := w.EncryptedKeysFor(stranger)
	require.NoError(t, err, "any caller may list keys once verified")
	assert.Equal(t, []id.AssetID{asset.ID}, keys)
}

func TestAccessKeyGrantedFlagReusesNotVerified(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 50, "alice", now))
	asset := registerAsset(t, w, "coin", 10)
	require.NoError(t, w.StoreKey(owner, asset.ID, []byte("secret"), now))
	require.NoError(t, w.Verify(verifier, adminCap(), now))

	rec := w.Keys[asset.ID]
	rec.AccessGranted = true
	w.Keys[asset.ID] = rec

	_, err := w.AccessKey(alice, asset.ID)
	requireCode(t, err, dErrors.CodeNotVerified)
}

func TestDistribution(t *testing.T) {
	t.Run("half share of 1000 pays 500 and closes the will", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 50, "alice", now))
		require.NoError(t, w.AddBeneficiary(owner, bob, 50, "bob", now))
		asset := registerAsset(t, w, "coin", 1000)
		require.NoError(t, w.Verify(verifier, adminCap(), now))

		d, err := w.PlanDistribution(alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(500), d.Total)
		assert.Equal(t, []Payout{{AssetID: asset.ID, Amount: 500}}, d.Payouts)

		w.ApplyDistribution(d, now)
		assert.False(t, w.IsActive())
		assert.Equal(t, uint64(500), w.Custody.Assets[asset.ID].Value)
		assert.Equal(t, uint64(500), w.Custody.Balances[asset.ID])

		_, err = w.PlanDistribution(bob)
		requireCode(t, err, dErrors.CodeWillInactive)
	})

	t.Run("zero share pays nothing and still closes", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 0, "alice", now))
		registerAsset(t, w, "coin", 1000)
		require.NoError(t, w.Verify(verifier, adminCap(), now))

		d, err := w.PlanDistribution(alice)
		require.NoError(t, err)
		assert.Zero(t, d.Total)
		w.ApplyDistribution(d, now)
		assert.False(t, w.IsActive())
	})

	t.Run("integer division truncates and leaves remainder", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 33, "alice", now))
		asset := registerAsset(t, w, "coin", 10)
		require.NoError(t, w.Verify(verifier, adminCap(), now))

		d, err := w.PlanDistribution(alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), d.Total)
		w.ApplyDistribution(d, now)
		assert.Equal(t, uint64(7), w.Custody.Balances[asset.ID])
	})

	t.Run("large values do not overflow", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 100, "alice", now))
		registerAsset(t, w, "coin", math.MaxUint64)
		require.NoError(t, w.Verify(verifier, adminCap(), now))

		d, err := w.PlanDistribution(alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(math.MaxUint64), d.Total)
	})

	t.Run("precondition order", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 50, "alice", now))

		_, err := w.PlanDistribution(stranger)
		requireCode(t, err, dErrors.CodeNotVerified)

		require.NoError(t, w.Verify(verifier, adminCap(), now))
		_, err = w.PlanDistribution(stranger)
		requireCode(t, err, dErrors.CodeUnauthorized)

		require.NoError(t, w.Revoke(owner, now))
		_, err = w.PlanDistribution(stranger)
		requireCode(t, err, dErrors.CodeWillInactive)
	})

	t.Run("custody shortfall aborts", func(t *testing.T) {
		w := newTestWill(t)
		require.NoError(t, w.AddBeneficiary(owner, alice, 50, "alice", now))
		asset := registerAsset(t, w, "coin", 1000)
		require.NoError(t, w.Verify(verifier, adminCap(), now))
		w.Custody.Balances[asset.ID] = 10

		_, err := w.PlanDistribution(alice)
		requireCode(t, err, dErrors.CodeInsufficientBalance)
		assert.True(t, w.IsActive())
	})
}

func TestDetailsFor(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 30, "alice", now))
	require.NoError(t, w.AddBeneficiary(owner, bob, 25, "bob", now))

	d, err := w.DetailsFor(alice)
	require.NoError(t, err)
	assert.Equal(t, owner, d.Owner)
	assert.True(t, d.IsActive)
	assert.Equal(t, uint64(55), d.TotalShares)
	assert.False(t, d.Verification.IsVerified())

	_, err = w.DetailsFor(stranger)
	requireCode(t, err, dErrors.CodeUnauthorized)

	list, err := w.BeneficiariesFor(owner)
	require.NoError(t, err)
	assert.Equal(t, []id.Address{alice, bob}, []id.Address{list[0].Address, list[1].Address})
}

func TestCloneIsIndependent(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 30, "alice", now))
	asset := registerAsset(t, w, "coin", 100)
	require.NoError(t, w.StoreKey(owner, asset.ID, []byte("k"), now))

	c := w.Clone()
	require.NoError(t, c.AddBeneficiary(owner, bob, 10, "bob", now))
	c.Custody.Balances[asset.ID] = 1
	c.Keys[asset.ID].EncryptedData[0] = 'X'
	require.NoError(t, c.Verify(verifier, adminCap(), now))

	assert.Len(t, w.Beneficiaries, 1)
	assert.Equal(t, uint64(100), w.Custody.Balances[asset.ID])
	assert.Equal(t, []byte("k"), w.Keys[asset.ID].EncryptedData)
	assert.False(t, w.Verification.IsVerified())
}

func TestWillJSONRoundTrip(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 30, "alice", now))
	asset := registerAsset(t, w, "coin", 100)
	require.NoError(t, w.StoreKey(owner, asset.ID, []byte{0, 1, 2}, now))
	require.NoError(t, w.Verify(verifier, adminCap(), now))

	raw, err := json.Marshal(w)
	require.NoError(t, err)

	var decoded Will
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, w.ID, decoded.ID)
	assert.Equal(t, w.Beneficiaries, decoded.Beneficiaries)
	assert.Equal(t, w.Custody, decoded.Custody)
	assert.Equal(t, w.Keys, decoded.Keys)
	assert.True(t, decoded.Verification.IsVerified())
	assert.Equal(t, verifier, decoded.Verification.VerifiedBy())
	assert.True(t, now.Equal(decoded.Verification.VerifiedAt()))
}

func TestVerificationUnmarshalRejectsIncompleteRecord(t *testing.T) {
	var v Verification
	assert.Error(t, json.Unmarshal([]byte(`{"state":"verified"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"state":"maybe"}`), &v))
	require.NoError(t, json.Unmarshal([]byte(`{"state":"unverified"}`), &v))
	assert.False(t, v.IsVerified())
}

func TestParticipants(t *testing.T) {
	w := newTestWill(t)
	require.NoError(t, w.AddBeneficiary(owner, alice, 10, "", now))
	require.NoError(t, w.AddBeneficiary(owner, alice, 10, "", now))
	require.NoError(t, w.AddBeneficiary(owner, owner, 10, "", now))
	require.NoError(t, w.AddBeneficiary(owner, bob, 10, "", now))
	assert.Equal(t, []id.Address{owner, alice, bob}, w.Participants())
}
