package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

func TestJournalList(t *testing.T) {
	created := time.Date(2026, 8, 25, 9, 30, 0, 123456789, time.UTC)
	bucket := domain.BucketID(2)
	from := domain.BucketID(1)

	entries := []domain.JournalEntry{
		journalEntry("b", domain.OpRebalanceBetween, created),
		journalEntry("a", domain.OpDeposit, created.Add(-time.Hour)),
	}
	entries[0].Bucket = &bucket
	entries[0].FromBucket = &from
	entries[1].SharesWad = "1000000000000000000"

	svc := &fakeJournalService{entries: entries}
	h := NewJournalHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []journalEntryResponse `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 2)

	first := body.Entries[0]
	assert.Equal(t, "b", first.ID)
	assert.Equal(t, "rebalance_between", first.Kind)
	assert.Equal(t, testKeeper.Hex(), first.Caller)
	require.NotNil(t, first.Bucket)
	require.NotNil(t, first.FromBucket)
	assert.Equal(t, uint32(2), *first.Bucket)
	assert.Equal(t, uint32(1), *first.FromBucket)
	assert.Equal(t, "2026-08-25T09:30:00.123456789Z", first.CreatedAt)

	second := body.Entries[1]
	assert.Nil(t, second.Bucket)
	assert.Equal(t, "1000000000000000000", second.SharesWad)

	// No kind filter: the unfiltered query ran.
	assert.Empty(t, svc.lastKind)
	assert.Equal(t, 50, svc.lastOpts.Limit)
}

func TestJournalListFiltersByKind(t *testing.T) {
	svc := &fakeJournalService{}
	h := NewJournalHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/journal?kind=deposit&limit=10&offset=20", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OpDeposit, svc.lastKind)
	assert.Equal(t, 10, svc.lastOpts.Limit)
	assert.Equal(t, 20, svc.lastOpts.Offset)
}

func TestJournalListClampsLimit(t *testing.T) {
	svc := &fakeJournalService{}
	h := NewJournalHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/journal?limit=9999", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, svc.lastOpts.Limit)
}

func TestJournalListEmptyIsNotNull(t *testing.T) {
	h := NewJournalHandler(&fakeJournalService{}, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"entries":[]}`, rec.Body.String())
}

func TestJournalListStoreFailure(t *testing.T) {
	svc := &fakeJournalService{err: assert.AnError}
	h := NewJournalHandler(svc, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler(testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}
