// Package policy implements the domain.Policy interface against the external
// role and policy store's REST API, with a short in-memory TTL cache so hot
// paths do not pay a round-trip per engine operation.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/tidewater-labs/reservoir/internal/crypto"
	"github.com/tidewater-labs/reservoir/internal/domain"
)

// Client is the REST client for the policy API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client

	cacheTTL time.Duration
	mu       sync.Mutex
	numerics *cached[domain.PolicyNumerics]
	paused   *cached[bool]
	roles    map[roleKey]*cached[bool]
}

type roleKey struct {
	holder domain.Holder
	role   domain.Role
}

type cached[T any] struct {
	value   T
	fetched time.Time
}

// NewClient creates a new policy REST client. cacheTTL bounds how stale a
// cached policy read may be; zero disables caching.
func NewClient(baseURL string, auth *crypto.HMACAuth, cacheTTL time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheTTL: cacheTTL,
		roles:    make(map[roleKey]*cached[bool]),
	}
}

type numericsResponse struct {
	EntryFeeBps    uint32 `json:"entry_fee_bps"`
	ExitFeeBps     uint32 `json:"exit_fee_bps"`
	BufferRatioBps uint32 `json:"buffer_ratio_bps"`
	EntryCapacity  string `json:"entry_capacity"`
	MinBucketIndex uint32 `json:"min_bucket_index"`
}

type boolResponse struct {
	Value bool `json:"value"`
}

type capacityResponse struct {
	Remaining string `json:"remaining"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HasRole reports whether the holder carries the given role.
func (c *Client) HasRole(ctx context.Context, holder domain.Holder, role domain.Role) (bool, error) {
	key := roleKey{holder: holder, role: role}

	c.mu.Lock()
	if entry, ok := c.roles[key]; ok && c.fresh(entry.fetched) {
		v := entry.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	path := fmt.Sprintf("/roles/%s/%s", holder.Hex(), role)
	body, err := c.doSignedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return false, fmt.Errorf("policy: has role %s: %w", role, err)
	}

	var resp boolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("policy: decode role response: %w", err)
	}

	c.mu.Lock()
	c.roles[key] = &cached[bool]{value: resp.Value, fetched: time.Now()}
	c.mu.Unlock()
	return resp.Value, nil
}

// Numerics returns the numeric policy surface.
func (c *Client) Numerics(ctx context.Context) (domain.PolicyNumerics, error) {
	c.mu.Lock()
	if c.numerics != nil && c.fresh(c.numerics.fetched) {
		n := c.numerics.value
		n.EntryCapacity = new(big.Int).Set(c.numerics.value.EntryCapacity)
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/numerics")
	if err != nil {
		return domain.PolicyNumerics{}, fmt.Errorf("policy: numerics: %w", err)
	}

	var resp numericsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PolicyNumerics{}, fmt.Errorf("policy: decode numerics: %w", err)
	}
	capacity, ok := new(big.Int).SetString(resp.EntryCapacity, 10)
	if !ok {
		return domain.PolicyNumerics{}, fmt.Errorf("policy: invalid entry_capacity %q", resp.EntryCapacity)
	}

	n := domain.PolicyNumerics{
		EntryFeeBps:    resp.EntryFeeBps,
		ExitFeeBps:     resp.ExitFeeBps,
		BufferRatioBps: resp.BufferRatioBps,
		EntryCapacity:  capacity,
		MinBucketIndex: domain.BucketID(resp.MinBucketIndex),
	}

	c.mu.Lock()
	c.numerics = &cached[domain.PolicyNumerics]{value: n, fetched: time.Now()}
	c.mu.Unlock()

	out := n
	out.EntryCapacity = new(big.Int).Set(n.EntryCapacity)
	return out, nil
}

// RemainingEntryCapacity returns the holder's remaining gross deposit
// headroom. Capacity moves with every deposit, so it is never cached.
func (c *Client) RemainingEntryCapacity(ctx context.Context, holder domain.Holder) (*big.Int, error) {
	path := fmt.Sprintf("/capacity/%s", holder.Hex())
	body, err := c.doSignedRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("policy: remaining capacity: %w", err)
	}

	var resp capacityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("policy: decode capacity: %w", err)
	}
	remaining, ok := new(big.Int).SetString(resp.Remaining, 10)
	if !ok {
		return nil, fmt.Errorf("policy: invalid remaining capacity %q", resp.Remaining)
	}
	return remaining, nil
}

// Paused returns the administrative pause flag.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.paused != nil && c.fresh(c.paused.fetched) {
		v := c.paused.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/paused")
	if err != nil {
		return false, fmt.Errorf("policy: paused: %w", err)
	}

	var resp boolResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("policy: decode paused: %w", err)
	}

	c.mu.Lock()
	c.paused = &cached[bool]{value: resp.Value, fetched: time.Now()}
	c.mu.Unlock()
	return resp.Value, nil
}

// Invalidate drops all cached policy reads, forcing the next call of each
// kind to hit the API.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.numerics = nil
	c.paused = nil
	c.roles = make(map[roleKey]*cached[bool])
}

func (c *Client) fresh(fetched time.Time) bool {
	return c.cacheTTL > 0 && time.Since(fetched) < c.cacheTTL
}

func (c *Client) doSignedRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, "") {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("HTTP %d: %s (%s)", resp.StatusCode, apiErr.Message, apiErr.Code)
	}
	return respBody, nil
}

// Compile-time interface check.
var _ domain.Policy = (*Client)(nil)
