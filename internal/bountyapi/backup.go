package bountyapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/reconcile"
)

// NewBackupHandler serves the fallback API clients call when the primary
// service is down. Its writes go to its own store first and its backup queue
// second, and both outcomes answer 200.
func NewBackupHandler(cfg Config, rec Reconciler, store bounty.Store, log *slog.Logger) (http.Handler, error) {
	if rec == nil || store == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	cfg.setDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &backupHandler{
		reads: reads{store: store, log: log},
		cfg:   cfg,
		rec:   rec,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	mux.HandleFunc("GET /bounties", h.handleListBounties)
	mux.HandleFunc("POST /bounties", h.handleCreateBounty)
	mux.HandleFunc("POST /bounties/complete", h.handleCompleteBounty)
	mux.HandleFunc("GET /bounty/{bountyId}/submissions", h.handleListSubmissions)
	return serve(cfg, mux, log), nil
}

type backupHandler struct {
	reads

	cfg Config
	rec Reconciler
}

func (h *backupHandler) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[createBountyRequest](w, r, h.cfg.MaxBodyBytes)
	if !ok {
		return
	}
	in, err := req.toBounty()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return
	}

	_, outcome, err := h.rec.CreateBounty(r.Context(), in)
	switch {
	case errors.Is(err, reconcile.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusNotFound, "Bounty not found")
	case errors.Is(err, reconcile.ErrConflict):
		writeError(w, http.StatusConflict, fmt.Sprintf("Bounty with id %q already exists", req.ID))
	case err != nil:
		h.log.Error("backup bounty", "requestId", RequestID(r.Context()), "bountyId", in.ID.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Could not backup bounty data")
	case outcome == reconcile.OutcomePending:
		writeJSON(w, http.StatusOK, messageBody{Message: "Successfully backed up bounty data"})
	default:
		writeJSON(w, http.StatusOK, messageBody{Message: "Bounty added successfully"})
	}
}

func (h *backupHandler) handleCompleteBounty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[completeBountyRequest](w, r, h.cfg.MaxBodyBytes)
	if !ok {
		return
	}
	c, err := req.toCompletion("")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return
	}

	outcome, err := h.rec.CompleteBounty(r.Context(), c)
	switch {
	case errors.Is(err, reconcile.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
	case errors.Is(err, reconcile.ErrVerificationFailed):
		writeError(w, http.StatusBadRequest, "Bounty payment details not found")
	case errors.Is(err, reconcile.ErrConflict):
		writeError(w, http.StatusConflict, "Bounty already completed")
	case err != nil:
		h.log.Error("backup completion", "requestId", RequestID(r.Context()), "bountyId", c.BountyID.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Could not backup completion data")
	case outcome == reconcile.OutcomePending:
		writeJSON(w, http.StatusOK, messageBody{Message: "Successfully backed up completion data"})
	default:
		writeJSON(w, http.StatusOK, messageBody{Message: "Bounty completed successfully"})
	}
}
