package venue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/reservoir/internal/crypto"
	"github.com/tidewater-labs/reservoir/internal/domain"
)

func testAuth() *crypto.HMACAuth {
	return &crypto.HMACAuth{
		Key:    "test-key",
		Secret: base64.StdEncoding.EncodeToString([]byte("test-secret")),
	}
}

func TestBucketTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/buckets/7/totals", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Api-Key"))
		w.Write([]byte(`{
			"bucket": 7,
			"claim_units": "1000",
			"quote_value": "2000",
			"collateral_value": "1500",
			"vault_claim": "600"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	totals, err := c.BucketTotals(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, domain.BucketID(7), totals.Bucket)
	assert.Equal(t, "1000", totals.ClaimUnits.String())
	assert.Equal(t, "2000", totals.QuoteValue.String())
	assert.Equal(t, "1500", totals.CollateralValue.String())
	assert.Equal(t, "600", totals.VaultClaim.String())
}

func TestAddLiquiditySignsBody(t *testing.T) {
	auth := testAuth()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/buckets/3/liquidity/add", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req liquidityRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "5000", req.QuoteValue)

		// The signature must cover the exact body bytes.
		ok := auth.Verify(r.Method, r.URL.Path, string(body),
			r.Header.Get("X-Api-Timestamp"), r.Header.Get("X-Api-Signature"))
		assert.True(t, ok)

		w.Write([]byte(`{"claim_units":"4900","quote_value":"5000"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth)
	res, err := c.AddLiquidity(context.Background(), 3, big.NewInt(5000))
	require.NoError(t, err)
	assert.Equal(t, "4900", res.ClaimUnits.String())
	assert.Equal(t, "5000", res.QuoteValue.String())
}

func TestMoveLiquidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/liquidity/move", r.URL.Path)
		var req moveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uint32(1), req.From)
		assert.Equal(t, uint32(2), req.To)
		assert.Equal(t, "300", req.ClaimUnits)
		w.Write([]byte(`{
			"burned": {"claim_units":"300","quote_value":"310"},
			"minted": {"claim_units":"295","quote_value":"310"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	burned, minted, err := c.MoveLiquidity(context.Background(), 1, 2, big.NewInt(300))
	require.NoError(t, err)
	assert.Equal(t, "300", burned.ClaimUnits.String())
	assert.Equal(t, "295", minted.ClaimUnits.String())
	assert.Equal(t, "310", minted.QuoteValue.String())
}

func TestRemoveCollateral(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/buckets/9/collateral/remove", r.URL.Path)
		w.Write([]byte(`{"quote_value":"777"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	got, err := c.RemoveCollateral(context.Background(), 9, big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, "777", got.String())
}

func TestStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/buckets/1/totals":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"not_found","message":"unknown bucket"}`))
		case "/interest/accrue":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":"unauthorized","message":"expired signature"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code":"internal","message":"boom"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())

	_, err := c.BucketTotals(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = c.AccrueInterest(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.VaultClaimValue(context.Background(), 2, big.NewInt(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestInvalidWadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quote_value":"not-a-number"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth())
	_, err := c.VaultClaimValue(context.Background(), 1, big.NewInt(10))
	require.Error(t, err)
}
