package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

// RebalanceAPI defines the liquidity-movement methods the rebalance handler
// requires from the service layer.
type RebalanceAPI interface {
	RebalanceToBucket(ctx context.Context, caller domain.Holder, dest domain.BucketID, amountWad *big.Int) (vault.RebalanceResult, error)
	RebalanceToBuffer(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (vault.RebalanceResult, error)
	RebalanceBetween(ctx context.Context, caller domain.Holder, from, to domain.BucketID, claimUnits *big.Int) (vault.RebalanceResult, error)
	RecoverCollateral(ctx context.Context, caller domain.Holder, src domain.BucketID, claimUnits *big.Int) (*big.Int, error)
	ReturnCollateral(ctx context.Context, caller domain.Holder, dest domain.BucketID) (*big.Int, error)
	Drain(ctx context.Context, caller domain.Holder, id domain.BucketID) (*big.Int, error)
}

// RebalanceHandler serves the keeper-facing liquidity-movement endpoints.
// Role enforcement happens in the engine against the policy store; the
// handler only validates shapes.
type RebalanceHandler struct {
	svc    RebalanceAPI
	logger *slog.Logger
}

// NewRebalanceHandler creates a RebalanceHandler.
func NewRebalanceHandler(svc RebalanceAPI, logger *slog.Logger) *RebalanceHandler {
	return &RebalanceHandler{
		svc:    svc,
		logger: logHandler(logger, "rebalance"),
	}
}

type rebalanceRequest struct {
	Caller string `json:"caller"`
	Bucket uint32 `json:"bucket"`
	From   uint32 `json:"from,omitempty"` // between-bucket moves only
	Amount string `json:"amount"`         // WAD decimal string
}

type rebalanceResponse struct {
	ClaimUnits string `json:"claim_units_wad"`
	QuoteValue string `json:"quote_value_wad"`
}

// ToBucket moves buffer value into a venue bucket.
// POST /api/rebalance/to-bucket
func (h *RebalanceHandler) ToBucket(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RebalanceToBucket(r.Context(), caller, domain.BucketID(req.Bucket), amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rebalance to bucket rejected",
			slog.Int("bucket", int(req.Bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceResponse{
		ClaimUnits: res.ClaimUnits.String(),
		QuoteValue: res.QuoteValue.String(),
	})
}

// ToBuffer pulls bucket value back into the internal buffer.
// POST /api/rebalance/to-buffer
func (h *RebalanceHandler) ToBuffer(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RebalanceToBuffer(r.Context(), caller, domain.BucketID(req.Bucket), amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rebalance to buffer rejected",
			slog.Int("bucket", int(req.Bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceResponse{
		ClaimUnits: res.ClaimUnits.String(),
		QuoteValue: res.QuoteValue.String(),
	})
}

// Between shifts claim value from one bucket to another.
// POST /api/rebalance/between
func (h *RebalanceHandler) Between(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RebalanceBetween(r.Context(), caller, domain.BucketID(req.From), domain.BucketID(req.Bucket), amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rebalance between rejected",
			slog.Int("from", int(req.From)),
			slog.Int("to", int(req.Bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rebalanceResponse{
		ClaimUnits: res.ClaimUnits.String(),
		QuoteValue: res.QuoteValue.String(),
	})
}

// Recover pulls collateral out-of-band; a success restricts the vault.
// POST /api/rebalance/recover
func (h *RebalanceHandler) Recover(w http.ResponseWriter, r *http.Request) {
	req, caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	value, err := h.svc.RecoverCollateral(r.Context(), caller, domain.BucketID(req.Bucket), amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "recover collateral rejected",
			slog.Int("bucket", int(req.Bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"quote_value_wad": value.String()})
}

type returnRequest struct {
	Caller string `json:"caller"`
	Bucket uint32 `json:"bucket"`
}

// Return gives all outstanding recovered value back to the venue.
// POST /api/rebalance/return
func (h *RebalanceHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseHolder(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return
	}

	value, err := h.svc.ReturnCollateral(r.Context(), caller, domain.BucketID(req.Bucket))
	if err != nil {
		h.logger.WarnContext(r.Context(), "return collateral rejected",
			slog.Int("bucket", int(req.Bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"quote_value_wad": value.String()})
}

// Drain reconciles one bucket's local claim against the venue.
// POST /api/rebalance/drain/{bucket}
func (h *RebalanceHandler) Drain(w http.ResponseWriter, r *http.Request) {
	bucket, ok := parseBucket(pathParam(r, "bucket"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bucket id")
		return
	}
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseHolder(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return
	}

	loss, err := h.svc.Drain(r.Context(), caller, bucket)
	if err != nil {
		h.logger.WarnContext(r.Context(), "drain rejected",
			slog.Int("bucket", int(bucket)),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"loss_wad": loss.String()})
}

func (h *RebalanceHandler) decode(w http.ResponseWriter, r *http.Request) (rebalanceRequest, domain.Holder, *big.Int, bool) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, domain.Holder{}, nil, false
	}
	caller, ok := parseHolder(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "caller must be a hex address")
		return req, domain.Holder{}, nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal integer")
		return req, domain.Holder{}, nil, false
	}
	return req, caller, amount, true
}
