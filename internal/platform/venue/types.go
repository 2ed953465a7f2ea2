package venue

import (
	"fmt"
	"math/big"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// Wire types for the venue REST API. All WAD quantities travel as decimal
// strings so precision survives the JSON boundary.

type bucketTotalsResponse struct {
	Bucket          uint32 `json:"bucket"`
	ClaimUnits      string `json:"claim_units"`
	QuoteValue      string `json:"quote_value"`
	CollateralValue string `json:"collateral_value"`
	VaultClaim      string `json:"vault_claim"`
}

type valuationResponse struct {
	QuoteValue string `json:"quote_value"`
}

type liquidityRequest struct {
	QuoteValue string `json:"quote_value,omitempty"`
	ClaimUnits string `json:"claim_units,omitempty"`
}

type liquidityResponse struct {
	ClaimUnits string `json:"claim_units"`
	QuoteValue string `json:"quote_value"`
}

type moveRequest struct {
	From       uint32 `json:"from"`
	To         uint32 `json:"to"`
	ClaimUnits string `json:"claim_units"`
}

type moveResponse struct {
	Burned liquidityResponse `json:"burned"`
	Minted liquidityResponse `json:"minted"`
}

type collateralRequest struct {
	ClaimUnits string `json:"claim_units,omitempty"`
	QuoteValue string `json:"quote_value,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseWad(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("venue: invalid %s %q", field, s)
	}
	return v, nil
}

func (r liquidityResponse) toDomain() (domain.LiquidityResult, error) {
	units, err := parseWad("claim_units", r.ClaimUnits)
	if err != nil {
		return domain.LiquidityResult{}, err
	}
	value, err := parseWad("quote_value", r.QuoteValue)
	if err != nil {
		return domain.LiquidityResult{}, err
	}
	return domain.LiquidityResult{ClaimUnits: units, QuoteValue: value}, nil
}

func (r bucketTotalsResponse) toDomain() (domain.BucketTotals, error) {
	units, err := parseWad("claim_units", r.ClaimUnits)
	if err != nil {
		return domain.BucketTotals{}, err
	}
	quote, err := parseWad("quote_value", r.QuoteValue)
	if err != nil {
		return domain.BucketTotals{}, err
	}
	collateral, err := parseWad("collateral_value", r.CollateralValue)
	if err != nil {
		return domain.BucketTotals{}, err
	}
	claim, err := parseWad("vault_claim", r.VaultClaim)
	if err != nil {
		return domain.BucketTotals{}, err
	}
	return domain.BucketTotals{
		Bucket:          domain.BucketID(r.Bucket),
		ClaimUnits:      units,
		QuoteValue:      quote,
		CollateralValue: collateral,
		VaultClaim:      claim,
	}, nil
}
