package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth() *HMACAuth {
	return &HMACAuth{
		Key:    "api-key-1",
		Secret: base64.StdEncoding.EncodeToString([]byte("shared-secret")),
	}
}

func TestHeadersAtDeterministic(t *testing.T) {
	auth := testAuth()

	a := auth.HeadersAt("POST", "/v1/orders", `{"x":1}`, 1700000000)
	b := auth.HeadersAt("POST", "/v1/orders", `{"x":1}`, 1700000000)

	assert.Equal(t, "api-key-1", a["X-Api-Key"])
	assert.Equal(t, "1700000000", a["X-Api-Timestamp"])
	assert.Equal(t, a["X-Api-Signature"], b["X-Api-Signature"])
}

func TestSignVerifyRoundTrip(t *testing.T) {
	auth := testAuth()

	h := auth.HeadersAt("GET", "/v1/value", "", 1700000000)
	ok := auth.Verify("GET", "/v1/value", "", h["X-Api-Timestamp"], h["X-Api-Signature"])
	require.True(t, ok)
}

func TestVerifyRejectsTamperedRequest(t *testing.T) {
	auth := testAuth()
	h := auth.HeadersAt("POST", "/v1/pull", `{"amount":"100"}`, 1700000000)

	assert.False(t, auth.Verify("POST", "/v1/pull", `{"amount":"999"}`, h["X-Api-Timestamp"], h["X-Api-Signature"]))
	assert.False(t, auth.Verify("POST", "/v1/push", `{"amount":"100"}`, h["X-Api-Timestamp"], h["X-Api-Signature"]))
	assert.False(t, auth.Verify("POST", "/v1/pull", `{"amount":"100"}`, "1700000001", h["X-Api-Signature"]))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	auth := testAuth()
	h := auth.HeadersAt("GET", "/v1/value", "", 1700000000)

	other := &HMACAuth{Key: auth.Key, Secret: base64.StdEncoding.EncodeToString([]byte("other-secret"))}
	assert.False(t, other.Verify("GET", "/v1/value", "", h["X-Api-Timestamp"], h["X-Api-Signature"]))
}

func TestStringRedactsCredentials(t *testing.T) {
	auth := testAuth()
	s := auth.String()
	assert.NotContains(t, s, auth.Secret)
	assert.Contains(t, s, "****")
}
