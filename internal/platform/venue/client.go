// Package venue implements the domain.Venue interface against the liquidity
// venue's REST API, with a WebSocket feed for streaming bucket valuations.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/tidewater-labs/reservoir/internal/crypto"
	"github.com/tidewater-labs/reservoir/internal/domain"
)

// Client is the REST client for the venue API.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a new venue REST client.
//
// baseURL is the API root, e.g. "https://api.venue.example/v1".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AccrueInterest advances the venue's interest accumulator to now.
func (c *Client) AccrueInterest(ctx context.Context) error {
	_, err := c.doSignedRequest(ctx, http.MethodPost, "/interest/accrue", nil)
	if err != nil {
		return fmt.Errorf("venue: accrue interest: %w", err)
	}
	return nil
}

// BucketTotals returns the venue's authoritative totals for one bucket.
func (c *Client) BucketTotals(ctx context.Context, bucket domain.BucketID) (domain.BucketTotals, error) {
	path := fmt.Sprintf("/buckets/%d/totals", bucket)

	body, err := c.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.BucketTotals{}, fmt.Errorf("venue: bucket totals %d: %w", bucket, err)
	}

	var resp bucketTotalsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.BucketTotals{}, fmt.Errorf("venue: decode bucket totals: %w", err)
	}
	return resp.toDomain()
}

// VaultClaimValue values the given claim units in the given bucket.
func (c *Client) VaultClaimValue(ctx context.Context, bucket domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	path := fmt.Sprintf("/buckets/%d/value", bucket)

	body, err := c.doSignedRequest(ctx, http.MethodPost, path, liquidityRequest{
		ClaimUnits: claimUnits.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("venue: value claim in bucket %d: %w", bucket, err)
	}

	var resp valuationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: decode valuation: %w", err)
	}
	return parseWad("quote_value", resp.QuoteValue)
}

// AddLiquidity deposits quote value into a bucket.
func (c *Client) AddLiquidity(ctx context.Context, bucket domain.BucketID, quoteValue *big.Int) (domain.LiquidityResult, error) {
	path := fmt.Sprintf("/buckets/%d/liquidity/add", bucket)

	body, err := c.doSignedRequest(ctx, http.MethodPost, path, liquidityRequest{
		QuoteValue: quoteValue.String(),
	})
	if err != nil {
		return domain.LiquidityResult{}, fmt.Errorf("venue: add liquidity to bucket %d: %w", bucket, err)
	}

	var resp liquidityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.LiquidityResult{}, fmt.Errorf("venue: decode add liquidity: %w", err)
	}
	return resp.toDomain()
}

// RemoveLiquidity burns claim units from a bucket.
func (c *Client) RemoveLiquidity(ctx context.Context, bucket domain.BucketID, claimUnits *big.Int) (domain.LiquidityResult, error) {
	path := fmt.Sprintf("/buckets/%d/liquidity/remove", bucket)

	body, err := c.doSignedRequest(ctx, http.MethodPost, path, liquidityRequest{
		ClaimUnits: claimUnits.String(),
	})
	if err != nil {
		return domain.LiquidityResult{}, fmt.Errorf("venue: remove liquidity from bucket %d: %w", bucket, err)
	}

	var resp liquidityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.LiquidityResult{}, fmt.Errorf("venue: decode remove liquidity: %w", err)
	}
	return resp.toDomain()
}

// MoveLiquidity shifts claim value between two buckets in one venue
// transaction.
func (c *Client) MoveLiquidity(ctx context.Context, from, to domain.BucketID, claimUnits *big.Int) (domain.LiquidityResult, domain.LiquidityResult, error) {
	body, err := c.doSignedRequest(ctx, http.MethodPost, "/liquidity/move", moveRequest{
		From:       uint32(from),
		To:         uint32(to),
		ClaimUnits: claimUnits.String(),
	})
	if err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, fmt.Errorf("venue: move liquidity: %w", err)
	}

	var resp moveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, fmt.Errorf("venue: decode move liquidity: %w", err)
	}
	burned, err := resp.Burned.toDomain()
	if err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, err
	}
	minted, err := resp.Minted.toDomain()
	if err != nil {
		return domain.LiquidityResult{}, domain.LiquidityResult{}, err
	}
	return burned, minted, nil
}

// RemoveCollateral pulls collateral out-of-band during an exceptional venue
// state.
func (c *Client) RemoveCollateral(ctx context.Context, bucket domain.BucketID, claimUnits *big.Int) (*big.Int, error) {
	path := fmt.Sprintf("/buckets/%d/collateral/remove", bucket)

	body, err := c.doSignedRequest(ctx, http.MethodPost, path, collateralRequest{
		ClaimUnits: claimUnits.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("venue: remove collateral from bucket %d: %w", bucket, err)
	}

	var resp valuationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("venue: decode remove collateral: %w", err)
	}
	return parseWad("quote_value", resp.QuoteValue)
}

// ReturnCollateral returns previously recovered value to the venue.
func (c *Client) ReturnCollateral(ctx context.Context, bucket domain.BucketID, quoteValue *big.Int) error {
	path := fmt.Sprintf("/buckets/%d/collateral/return", bucket)

	_, err := c.doSignedRequest(ctx, http.MethodPost, path, collateralRequest{
		QuoteValue: quoteValue.String(),
	})
	if err != nil {
		return fmt.Errorf("venue: return collateral to bucket %d: %w", bucket, err)
	}
	return nil
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against the
// venue API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var (
		bodyReader io.Reader
		bodyStr    string
	)
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		bodyStr = string(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.auth.Headers(method, path, bodyStr) {
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

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s (%s): %w", apiErr.Message, apiErr.Code, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

// Compile-time interface check.
var _ domain.Venue = (*Client)(nil)
