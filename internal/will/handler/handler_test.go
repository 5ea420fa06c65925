package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"willvault/internal/capability"
	"willvault/internal/ledger"
	"willvault/internal/will/models"
	"willvault/internal/will/service"
	"willvault/internal/will/store"
	id "willvault/pkg/domain"
	"willvault/pkg/platform/audit/publisher"
	auditmemory "willvault/pkg/platform/audit/store/memory"
	"willvault/pkg/testutil"
)

const (
	owner    = "0xa11ce"
	heir     = "0xb0b"
	stranger = "0xe7e"
	verifier = "0xad"
)

// =============================================================================
// Will Handler Test Suite
// =============================================================================
// Justification: handlers own request parsing, capability header handling and
// status mapping. The suite drives them through the chi router with the real
// service on in-memory backends.

type WillHandlerSuite struct {
	suite.Suite
	router       http.Handler
	ledger       *ledger.InMemory
	capabilities *capability.Issuer
}

func TestWillHandlerSuite(t *testing.T) {
	suite.Run(t, new(WillHandlerSuite))
}

func (s *WillHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.ledger = ledger.NewInMemory()
	auditStore := auditmemory.NewInMemoryStore()
	svc, err := service.New(store.NewInMemoryStore(), s.ledger,
		service.WithLogger(logger),
		service.WithAuditPublisher(publisher.NewPublisher(auditStore)),
		service.WithAuditReader(auditStore),
	)
	s.Require().NoError(err)
	s.capabilities = capability.NewIssuer("capability-key", "willvault-test")

	r := chi.NewRouter()
	New(svc, s.capabilities, logger).Register(r)
	s.router = r

	_, err = s.ledger.Fund(s.T().Context(), owner, 5_000)
	s.Require().NoError(err)
}

func (s *WillHandlerSuite) do(caller, method, path string, body any) *http.Request {
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(s.T(), method, path, body)
	} else {
		req = testutil.NewRequest(s.T(), method, path)
	}
	if caller != "" {
		req = testutil.WithCaller(req, caller)
	}
	return testutil.WithRequestTime(req, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
}

func (s *WillHandlerSuite) createWill() string {
	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return testutil.UnmarshalResponse[WillResponse](s.T(), rr).ID
}

func (s *WillHandlerSuite) registerAsset(willID string, amount uint64) models.Asset {
	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/assets", map[string]any{"amount": amount}))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	return *testutil.UnmarshalResponse[models.Asset](s.T(), rr)
}

func (s *WillHandlerSuite) addBeneficiary(willID, addr string, share uint64) {
	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/beneficiaries",
		map[string]any{"address": addr, "share_percentage": share, "name": "Bob"}))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
}

func (s *WillHandlerSuite) verify(willID string) {
	_, token, err := s.capabilities.Issue(verifier)
	s.Require().NoError(err)
	req := s.do(verifier, http.MethodPost, "/wills/"+willID+"/verify", nil)
	req.Header.Set(HeaderAdminCapability, token)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *WillHandlerSuite) TestCreateAndDetails() {
	willID := s.createWill()

	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodGet, "/wills/"+willID, nil))
	testutil.AssertStatusOK(s.T(), rr)
	details := testutil.UnmarshalResponse[models.Details](s.T(), rr)
	s.Equal(id.Address(owner), details.Owner)
	s.True(details.IsActive)
	s.False(details.Verification.IsVerified())

	rr = testutil.DoRequest(s.router, s.do(stranger, http.MethodGet, "/wills/"+willID, nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")

	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodGet, "/wills/not-a-uuid", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *WillHandlerSuite) TestMissingCaller() {
	rr := testutil.DoRequest(s.router, s.do("", http.MethodPost, "/wills", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")
}

func (s *WillHandlerSuite) TestBeneficiaries() {
	willID := s.createWill()
	s.addBeneficiary(willID, heir, 60)

	s.Run("over the cap is invalid_share", func() {
		rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/beneficiaries",
			map[string]any{"address": "0xc0", "share_percentage": 41}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_share")
	})

	s.Run("missing share is a validation error", func() {
		rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/beneficiaries",
			map[string]any{"address": "0xc0"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("non-owner is not_owner", func() {
		rr := testutil.DoRequest(s.router, s.do(stranger, http.MethodPost, "/wills/"+willID+"/beneficiaries",
			map[string]any{"address": "0xc0", "share_percentage": 1}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "not_owner")
	})

	s.Run("update share", func() {
		rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPut, "/wills/"+willID+"/beneficiaries/"+heir,
			map[string]any{"share_percentage": 100}))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[BeneficiariesResponse](s.T(), rr)
		s.Equal(uint64(100), resp.TotalShares)
	})

	s.Run("update unknown beneficiary", func() {
		rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPut, "/wills/"+willID+"/beneficiaries/0xc0",
			map[string]any{"share_percentage": 0}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "beneficiary_not_found")
	})

	s.Run("beneficiary can list", func() {
		rr := testutil.DoRequest(s.router, s.do(heir, http.MethodGet, "/wills/"+willID+"/beneficiaries", nil))
		testutil.AssertStatusOK(s.T(), rr)
		resp := testutil.UnmarshalResponse[BeneficiariesResponse](s.T(), rr)
		s.Require().Len(resp.Beneficiaries, 1)
		s.Equal(id.Address(heir), resp.Beneficiaries[0].Address)
	})
}

func (s *WillHandlerSuite) TestKeyLifecycle() {
	willID := s.createWill()
	asset := s.registerAsset(willID, 1000)
	s.addBeneficiary(willID, heir, 50)
	keyPath := "/wills/" + willID + "/keys/" + asset.ID.String()
	secret := []byte("sealed-key-material")

	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPut, keyPath, map[string]any{"encrypted_data": secret}))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodPut, keyPath, map[string]any{"encrypted_data": secret}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")

	unknown := "/wills/" + willID + "/keys/" + id.DeriveAssetID("nope").String()
	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodPut, unknown, map[string]any{"encrypted_data": secret}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "asset_not_found")

	rr = testutil.DoRequest(s.router, s.do(heir, http.MethodGet, keyPath, nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "not_verified")

	s.verify(willID)

	rr = testutil.DoRequest(s.router, s.do(stranger, http.MethodGet, keyPath, nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "unauthorized")

	rr = testutil.DoRequest(s.router, s.do(heir, http.MethodGet, keyPath, nil))
	testutil.AssertStatusOK(s.T(), rr)
	key := testutil.UnmarshalResponse[KeyResponse](s.T(), rr)
	s.Equal(secret, key.EncryptedData)

	rr = testutil.DoRequest(s.router, s.do(stranger, http.MethodGet, "/wills/"+willID+"/keys", nil))
	testutil.AssertStatusOK(s.T(), rr)
	keys := testutil.UnmarshalResponse[KeysResponse](s.T(), rr)
	s.Equal([]id.AssetID{asset.ID}, keys.AssetIDs)
}

func (s *WillHandlerSuite) TestVerify() {
	willID := s.createWill()

	s.Run("missing capability is not_admin", func() {
		rr := testutil.DoRequest(s.router, s.do(verifier, http.MethodPost, "/wills/"+willID+"/verify", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "not_admin")
	})

	s.Run("capability of another holder is not_admin", func() {
		_, token, err := s.capabilities.Issue("0xother")
		s.Require().NoError(err)
		req := s.do(verifier, http.MethodPost, "/wills/"+willID+"/verify", nil)
		req.Header.Set(HeaderAdminCapability, token)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "not_admin")
	})

	s.Run("valid capability verifies once", func() {
		s.verify(willID)

		_, token, err := s.capabilities.Issue(verifier)
		s.Require().NoError(err)
		req := s.do(verifier, http.MethodPost, "/wills/"+willID+"/verify", nil)
		req.Header.Set(HeaderAdminCapability, token)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "already_verified")
	})

	s.Run("already verified wins over a missing capability", func() {
		rr := testutil.DoRequest(s.router, s.do(verifier, http.MethodPost, "/wills/"+willID+"/verify", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "already_verified")
	})
}

func (s *WillHandlerSuite) TestDistribute() {
	willID := s.createWill()
	s.registerAsset(willID, 1000)
	s.addBeneficiary(willID, heir, 50)
	s.verify(willID)

	rr := testutil.DoRequest(s.router, s.do(heir, http.MethodPost, "/wills/"+willID+"/distribute", nil))
	testutil.AssertStatusOK(s.T(), rr)
	dist := testutil.UnmarshalResponse[models.Distribution](s.T(), rr)
	s.Equal(uint64(500), dist.Total)
	balance, err := s.ledger.Balance(s.T().Context(), heir)
	s.Require().NoError(err)
	s.Equal(uint64(500), balance)

	rr = testutil.DoRequest(s.router, s.do(heir, http.MethodPost, "/wills/"+willID+"/distribute", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "will_inactive")

	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodGet, "/wills/"+willID+"/audit", nil))
	testutil.AssertStatusOK(s.T(), rr)
	trail := testutil.UnmarshalResponse[AuditTrailResponse](s.T(), rr)
	s.Require().NotEmpty(trail.Events)
	s.Equal("assets_distributed", trail.Events[len(trail.Events)-1].Action)
}

func (s *WillHandlerSuite) TestRegisterAssetOverdraft() {
	willID := s.createWill()
	rr := testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/assets", map[string]any{"amount": 9_999}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "insufficient_balance")

	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/assets", map[string]any{}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *WillHandlerSuite) TestRevokeAndList() {
	willID := s.createWill()
	s.addBeneficiary(willID, heir, 10)

	rr := testutil.DoRequest(s.router, s.do(heir, http.MethodPost, "/wills/"+willID+"/revoke", nil))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "not_owner")

	rr = testutil.DoRequest(s.router, s.do(owner, http.MethodPost, "/wills/"+willID+"/revoke", nil))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	rr = testutil.DoRequest(s.router, s.do(heir, http.MethodGet, "/wills", nil))
	testutil.AssertStatusOK(s.T(), rr)
	list := testutil.UnmarshalResponse[WillListResponse](s.T(), rr)
	s.Require().Len(list.Wills, 1)
	s.Equal(willID, list.Wills[0].ID)
	s.False(list.Wills[0].IsActive)
}
