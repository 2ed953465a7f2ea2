package policy

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/reservoir/internal/crypto"
	"github.com/tidewater-labs/reservoir/internal/domain"
)

var testHolder = common.HexToAddress("0x1111111111111111111111111111111111111111")

func testAuth() *crypto.HMACAuth {
	return &crypto.HMACAuth{
		Key:    "test-key",
		Secret: base64.StdEncoding.EncodeToString([]byte("test-secret")),
	}
}

func TestNumericsParsesAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/numerics", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Api-Signature"))
		hits.Add(1)
		w.Write([]byte(`{
			"entry_fee_bps": 10,
			"exit_fee_bps": 25,
			"buffer_ratio_bps": 500,
			"entry_capacity": "1000000000000000000000",
			"min_bucket_index": 2
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), time.Minute)

	n, err := c.Numerics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(10), n.EntryFeeBps)
	assert.Equal(t, uint32(25), n.ExitFeeBps)
	assert.Equal(t, uint32(500), n.BufferRatioBps)
	assert.Equal(t, "1000000000000000000000", n.EntryCapacity.String())
	assert.Equal(t, domain.BucketID(2), n.MinBucketIndex)

	// Second read is served from cache.
	_, err = c.Numerics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load())

	// Cached copies must not alias the cached big.Int.
	n.EntryCapacity.SetInt64(0)
	n2, err := c.Numerics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", n2.EntryCapacity.String())
}

func TestNumericsZeroTTLDisablesCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"entry_fee_bps":0,"exit_fee_bps":0,"buffer_ratio_bps":0,"entry_capacity":"0","min_bucket_index":0}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), 0)
	for i := 0; i < 3; i++ {
		_, err := c.Numerics(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), hits.Load())
}

func TestHasRolePathAndCaching(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/roles/"+testHolder.Hex()+"/keeper", r.URL.Path)
		w.Write([]byte(`{"value":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), time.Minute)

	ok, err := c.HasRole(context.Background(), testHolder, domain.RoleKeeper)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasRole(context.Background(), testHolder, domain.RoleKeeper)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), hits.Load())
}

func TestRemainingEntryCapacityNeverCached(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/capacity/"+testHolder.Hex(), r.URL.Path)
		w.Write([]byte(`{"remaining":"42"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), time.Minute)
	for i := 0; i < 2; i++ {
		remaining, err := c.RemainingEntryCapacity(context.Background(), testHolder)
		require.NoError(t, err)
		assert.Equal(t, "42", remaining.String())
	}
	assert.Equal(t, int64(2), hits.Load())
}

func TestPaused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/paused", r.URL.Path)
		w.Write([]byte(`{"value":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), 0)
	paused, err := c.Paused(context.Background())
	require.NoError(t, err)
	assert.True(t, paused)
}

func TestInvalidateDropsCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"value":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), time.Minute)

	_, err := c.Paused(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.Paused(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/paused":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"code":"forbidden","message":"bad signature"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"not_found","message":"no such holder"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testAuth(), 0)

	_, err := c.Paused(context.Background())
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = c.RemainingEntryCapacity(context.Background(), testHolder)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
