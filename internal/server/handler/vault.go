package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/tidewater-labs/reservoir/internal/domain"
	"github.com/tidewater-labs/reservoir/internal/service"
	"github.com/tidewater-labs/reservoir/internal/vault"
)

// VaultAPI defines the methods the vault handler requires from the service
// layer.
type VaultAPI interface {
	State(ctx context.Context) (domain.VaultState, domain.RestrictedReason, error)
	TotalManagedValue(ctx context.Context) (*big.Int, error)
	Buckets(ctx context.Context) ([]service.BucketStatus, error)
	BalanceOf(holder domain.Holder) *big.Int
	ShareSupply() *big.Int
	PreviewDeposit(ctx context.Context, grossNative *big.Int) (*big.Int, error)
	PreviewWithdraw(ctx context.Context, netNative *big.Int) (*big.Int, error)
	Deposit(ctx context.Context, holder domain.Holder, grossNative *big.Int) (vault.DepositResult, error)
	Withdraw(ctx context.Context, holder domain.Holder, netNative *big.Int) (vault.WithdrawResult, error)
}

// VaultHandler serves the vault's read and entry/exit endpoints.
type VaultHandler struct {
	svc    VaultAPI
	logger *slog.Logger
}

// NewVaultHandler creates a VaultHandler with the given service and logger.
func NewVaultHandler(svc VaultAPI, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{
		svc:    svc,
		logger: logHandler(logger, "vault"),
	}
}

type stateResponse struct {
	State               string `json:"state"`
	AdminPaused         bool   `json:"admin_paused"`
	RecoveryOutstanding bool   `json:"recovery_outstanding"`
}

// GetState returns the vault's operating state and restriction reason.
// GET /api/vault/state
func (h *VaultHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, reason, err := h.svc.State(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "state read failed", slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{
		State:               state.String(),
		AdminPaused:         reason.AdminPaused,
		RecoveryOutstanding: reason.RecoveryOutstanding,
	})
}

type valueResponse struct {
	TotalManagedValue string `json:"total_managed_value"`
	ShareSupplyWad    string `json:"share_supply_wad"`
}

// GetValue returns total managed value (native precision) and share supply.
// GET /api/vault/value
func (h *VaultHandler) GetValue(w http.ResponseWriter, r *http.Request) {
	total, err := h.svc.TotalManagedValue(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "value read failed", slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{
		TotalManagedValue: total.String(),
		ShareSupplyWad:    h.svc.ShareSupply().String(),
	})
}

type bucketStatusResponse struct {
	Bucket   uint32  `json:"bucket"`
	ClaimWad string  `json:"claim_wad"`
	ValueWad *string `json:"value_wad,omitempty"`
	AsOf     string  `json:"as_of,omitempty"`
}

// ListBuckets returns the vault's bucket claims with cached valuations.
// GET /api/vault/buckets
func (h *VaultHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.svc.Buckets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "bucket list failed", slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}

	out := make([]bucketStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp := bucketStatusResponse{
			Bucket:   uint32(s.Bucket),
			ClaimWad: s.ClaimWad.String(),
		}
		if s.ValueWad != nil {
			v := s.ValueWad.String()
			resp.ValueWad = &v
			resp.AsOf = s.AsOf.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": out})
}

// GetBalance returns a holder's share balance.
// GET /api/vault/balances/{holder}
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, ok := parseHolder(pathParam(r, "holder"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid holder address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"holder":     holder.Hex(),
		"shares_wad": h.svc.BalanceOf(holder).String(),
	})
}

type previewRequest struct {
	Amount string `json:"amount"`
}

// PreviewDeposit quotes the shares a gross deposit would mint.
// POST /api/vault/preview/deposit
func (h *VaultHandler) PreviewDeposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	shares, err := h.svc.PreviewDeposit(r.Context(), amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "preview deposit failed", slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares_wad": shares.String()})
}

// PreviewWithdraw quotes the shares a net withdrawal would burn.
// POST /api/vault/preview/withdraw
func (h *VaultHandler) PreviewWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	shares, err := h.svc.PreviewWithdraw(r.Context(), amount)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "preview withdraw failed", slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares_wad": shares.String()})
}

type entryRequest struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"` // native precision decimal string
}

type depositResponse struct {
	SharesMinted string `json:"shares_minted_wad"`
	NetAmount    string `json:"net_amount"`
	FeeAmount    string `json:"fee_amount"`
}

// Deposit enters the vault for a holder.
// POST /api/vault/deposit
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	holder, amount, ok := decodeEntry(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Deposit(r.Context(), holder, amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "deposit rejected",
			slog.String("holder", holder.Hex()),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositResponse{
		SharesMinted: res.SharesMinted.String(),
		NetAmount:    res.NetNative.String(),
		FeeAmount:    res.FeeNative.String(),
	})
}

type withdrawResponse struct {
	SharesBurned string `json:"shares_burned_wad"`
	GrossAmount  string `json:"gross_amount"`
	FeeAmount    string `json:"fee_amount"`
}

// Withdraw exits the vault for a holder.
// POST /api/vault/withdraw
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	holder, amount, ok := decodeEntry(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Withdraw(r.Context(), holder, amount)
	if err != nil {
		h.logger.WarnContext(r.Context(), "withdraw rejected",
			slog.String("holder", holder.Hex()),
			slog.String("error", err.Error()))
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		SharesBurned: res.SharesBurned.String(),
		GrossAmount:  res.GrossNative.String(),
		FeeAmount:    res.FeeNative.String(),
	})
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (*big.Int, bool) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal integer")
		return nil, false
	}
	return amount, true
}

func decodeEntry(w http.ResponseWriter, r *http.Request) (domain.Holder, *big.Int, bool) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return domain.Holder{}, nil, false
	}
	holder, ok := parseHolder(req.Holder)
	if !ok {
		writeError(w, http.StatusBadRequest, "holder must be a hex address")
		return domain.Holder{}, nil, false
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, "amount must be a positive decimal integer")
		return domain.Holder{}, nil, false
	}
	return holder, amount, true
}
