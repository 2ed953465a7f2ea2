package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/service"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetStateActive(t *testing.T) {
	svc := &fakeVaultService{state: domain.StateActive}
	h := NewVaultHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.GetState(rec, httptest.NewRequest(http.MethodGet, "/api/vault/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, false, body["admin_paused"])
	assert.Equal(t, false, body["recovery_outstanding"])
}

func TestGetStateRestricted(t *testing.T) {
	svc := &fakeVaultService{
		state:  domain.StateRestricted,
		reason: domain.RestrictedReason{RecoveryOutstanding: true},
	}
	h := NewVaultHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.GetState(rec, httptest.NewRequest(http.MethodGet, "/api/vault/state", nil))

	body := decodeBody(t, rec)
	assert.Equal(t, "restricted", body["state"])
	assert.Equal(t, true, body["recovery_outstanding"])
}

func TestGetValue(t *testing.T) {
	svc := &fakeVaultService{
		totalValue:  big.NewInt(250_000000),
		shareSupply: big.NewInt(1e18),
	}
	h := NewVaultHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.GetValue(rec, httptest.NewRequest(http.MethodGet, "/api/vault/value", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "250000000", body["total_managed_value"])
	assert.Equal(t, "1000000000000000000", body["share_supply_wad"])
}

func TestListBucketsIncludesValuationWhenCached(t *testing.T) {
	asOf := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	svc := &fakeVaultService{buckets: []service.BucketStatus{
		{Bucket: 1, ClaimWad: big.NewInt(100), ValueWad: big.NewInt(101), AsOf: asOf},
		{Bucket: 2, ClaimWad: big.NewInt(200)},
	}}
	h := NewVaultHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.ListBuckets(rec, httptest.NewRequest(http.MethodGet, "/api/vault/buckets", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Buckets []bucketStatusResponse `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Buckets, 2)

	require.NotNil(t, body.Buckets[0].ValueWad)
	assert.Equal(t, "101", *body.Buckets[0].ValueWad)
	assert.Equal(t, "2026-08-25T10:00:00Z", body.Buckets[0].AsOf)

	assert.Nil(t, body.Buckets[1].ValueWad)
	assert.Empty(t, body.Buckets[1].AsOf)
}

func TestGetBalance(t *testing.T) {
	svc := &fakeVaultService{balance: big.NewInt(42)}
	h := NewVaultHandler(svc, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/vault/balances/x", nil)
	req.SetPathValue("holder", testHolder.Hex())
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, testHolder.Hex(), body["holder"])
	assert.Equal(t, "42", body["shares_wad"])
	assert.Equal(t, testHolder, svc.lastHolder)
}

func TestGetBalanceRejectsBadAddress(t *testing.T) {
	h := NewVaultHandler(&fakeVaultService{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/vault/balances/x", nil)
	req.SetPathValue("holder", "not-hex")
	rec := httptest.NewRecorder()
	h.GetBalance(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "invalid holder")
}

func TestPreviewDeposit(t *testing.T) {
	svc := &fakeVaultService{preview: big.NewInt(99)}
	h := NewVaultHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.PreviewDeposit(rec, httptest.NewRequest(http.MethodPost, "/api/vault/preview/deposit",
		strings.NewReader(`{"amount":"100000000"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "99", decodeBody(t, rec)["shares_wad"])
	assert.Equal(t, "100000000", svc.lastAmount.String())
}

func TestPreviewRejectsNonPositiveAmount(t *testing.T) {
	h := NewVaultHandler(&fakeVaultService{}, testLogger())

	for _, amount := range []string{"0", "-5", "abc", ""} {
		rec := httptest.NewRecorder()
		h.PreviewWithdraw(rec, httptest.NewRequest(http.MethodPost, "/api/vault/preview/withdraw",
			strings.NewReader(fmt.Sprintf(`{"amount":%q}`, amount))))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "amount %q", amount)
	}
}

func TestDeposit(t *testing.T) {
	svc := &fakeVaultService{deposit: vault.DepositResult{
		SharesMinted: big.NewInt(95),
		NetNative:    big.NewInt(95_000000),
		FeeNative:    big.NewInt(5_000000),
	}}
	h := NewVaultHandler(svc, testLogger())

	body := fmt.Sprintf(`{"holder":%q,"amount":"100000000"}`, testHolder.Hex())
	rec := httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "95", resp["shares_minted_wad"])
	assert.Equal(t, "95000000", resp["net_amount"])
	assert.Equal(t, "5000000", resp["fee_amount"])
	assert.Equal(t, testHolder, svc.lastHolder)
}

func TestDepositRejectsMalformedBody(t *testing.T) {
	h := NewVaultHandler(&fakeVaultService{}, testLogger())

	rec := httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/vault/deposit",
		strings.NewReader(`{"holder":"bogus","amount":"1"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "holder")
}

func TestWithdraw(t *testing.T) {
	svc := &fakeVaultService{withdraw: vault.WithdrawResult{
		SharesBurned: big.NewInt(50),
		GrossNative:  big.NewInt(51_000000),
		FeeNative:    big.NewInt(1_000000),
	}}
	h := NewVaultHandler(svc, testLogger())

	body := fmt.Sprintf(`{"holder":%q,"amount":"50000000"}`, testHolder.Hex())
	rec := httptest.NewRecorder()
	h.Withdraw(rec, httptest.NewRequest(http.MethodPost, "/api/vault/withdraw", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	assert.Equal(t, "50", resp["shares_burned_wad"])
	assert.Equal(t, "51000000", resp["gross_amount"])
	assert.Equal(t, "1000000", resp["fee_amount"])
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantClass  string
	}{
		{"lock active", domain.ErrLockActive, http.StatusConflict, "state"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "unknown"},
		{"unauthorized", domain.ErrUnauthorized, http.StatusForbidden, "policy"},
		{"capacity", domain.ErrCapacityExceeded, http.StatusUnprocessableEntity, "invariant"},
		{"dusty", fmt.Errorf("vault: deposit: %w", domain.ErrDustyPosition), http.StatusUnprocessableEntity, "invariant"},
		{"restricted", domain.ErrRestricted, http.StatusConflict, "state"},
		{"ledger underflow", domain.ErrLedgerUnderflow, http.StatusUnprocessableEntity, "consistency"},
		{"unclassified", fmt.Errorf("venue unreachable"), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeVaultService{err: tt.err}
			h := NewVaultHandler(svc, testLogger())

			body := fmt.Sprintf(`{"holder":%q,"amount":"1000000"}`, testHolder.Hex())
			rec := httptest.NewRecorder()
			h.Deposit(rec, httptest.NewRequest(http.MethodPost, "/api/vault/deposit", strings.NewReader(body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			resp := decodeBody(t, rec)
			assert.Equal(t, tt.wantClass, resp["class"])
			assert.NotEmpty(t, resp["error"])
		})
	}
}
