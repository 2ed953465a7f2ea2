package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidewater-labs/reservoir/internal/domain"
)

// JournalAPI defines the journal queries the handler requires from the
// service layer.
type JournalAPI interface {
	Journal(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error)
	JournalByKind(ctx context.Context, kind domain.OpKind, opts domain.ListOpts) ([]domain.JournalEntry, error)
}

// JournalHandler serves the operation journal read endpoints.
type JournalHandler struct {
	svc    JournalAPI
	logger *slog.Logger
}

// NewJournalHandler creates a JournalHandler.
func NewJournalHandler(svc JournalAPI, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{
		svc:    svc,
		logger: logHandler(logger, "journal"),
	}
}

type journalEntryResponse struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Caller     string  `json:"caller"`
	Bucket     *uint32 `json:"bucket,omitempty"`
	FromBucket *uint32 `json:"from_bucket,omitempty"`
	AmountWad  string  `json:"amount_wad"`
	SharesWad  string  `json:"shares_wad,omitempty"`
	Succeeded  bool    `json:"succeeded"`
	ErrorClass string  `json:"error_class,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// List returns journal entries, newest first, optionally filtered by kind.
// GET /api/journal?kind=deposit&limit=50&offset=0
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	kind := r.URL.Query().Get("kind")

	var (
		entries []domain.JournalEntry
		err     error
	)
	if kind != "" {
		entries, err = h.svc.JournalByKind(r.Context(), domain.OpKind(kind), opts)
	} else {
		entries, err = h.svc.Journal(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "journal list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list journal")
		return
	}

	out := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp := journalEntryResponse{
			ID:         e.ID,
			Kind:       string(e.Kind),
			Caller:     e.Caller.Hex(),
			AmountWad:  e.AmountWad,
			SharesWad:  e.SharesWad,
			Succeeded:  e.Succeeded,
			ErrorClass: string(e.ErrorClass),
			ErrorMsg:   e.ErrorMsg,
			CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if e.Bucket != nil {
			b := uint32(*e.Bucket)
			resp.Bucket = &b
		}
		if e.FromBucket != nil {
			b := uint32(*e.FromBucket)
			resp.FromBucket = &b
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
