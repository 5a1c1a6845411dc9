package bountyapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/reconcile"
	"github.com/bountyboard/bountyd/internal/sigverify"
	"github.com/ethereum/go-ethereum/common"
)

// NewPrimaryHandler serves the authoritative API. Verified writes the primary
// store rejects are parked in the backup queue and answered with 202.
func NewPrimaryHandler(cfg Config, rec Reconciler, store bounty.Store, log *slog.Logger) (http.Handler, error) {
	if rec == nil || store == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	cfg.setDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &primaryHandler{
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
	mux.HandleFunc("GET /bounty/{bountyId}", h.handleGetBounty)
	mux.HandleFunc("POST /bounty/{bountyId}/complete", h.handleCompleteBounty)
	mux.HandleFunc("GET /submission/{bountyId}", h.handleListSubmissions)
	mux.HandleFunc("POST /submission/{bountyId}", h.handleCreateSubmission)
	return serve(cfg, mux, log), nil
}

type primaryHandler struct {
	reads

	cfg Config
	rec Reconciler
}

func (h *primaryHandler) handleCreateBounty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[createBountyRequest](w, r, h.cfg.MaxBodyBytes)
	if !ok {
		return
	}
	in, err := req.toBounty()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return
	}

	b, outcome, err := h.rec.CreateBounty(r.Context(), in)
	switch {
	case errors.Is(err, reconcile.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
	case errors.Is(err, reconcile.ErrNotFound):
		writeError(w, http.StatusBadRequest, "Bounty not found")
	case errors.Is(err, reconcile.ErrConflict):
		writeError(w, http.StatusBadRequest, "Bounty already exists")
	case err != nil:
		h.log.Error("create bounty", "requestId", RequestID(r.Context()), "bountyId", in.ID.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
	case outcome == reconcile.OutcomePending:
		writeJSON(w, http.StatusAccepted, messageBody{Message: "Bounty saved for delayed sync", Pending: true, Bounty: &b})
	default:
		writeJSON(w, http.StatusOK, b)
	}
}

func (h *primaryHandler) handleCompleteBounty(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBody[completeBountyRequest](w, r, h.cfg.MaxBodyBytes)
	if !ok {
		return
	}
	c, err := req.toCompletion(r.PathValue("bountyId"))
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
		writeError(w, http.StatusBadRequest, "Bounty already completed")
	case err != nil:
		h.log.Error("complete bounty", "requestId", RequestID(r.Context()), "bountyId", c.BountyID.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
	case outcome == reconcile.OutcomePending:
		writeJSON(w, http.StatusAccepted, messageBody{Message: "Completion saved for delayed sync", Pending: true})
	default:
		writeJSON(w, http.StatusOK, messageBody{Message: "ok"})
	}
}

type submissionEnvelope struct {
	Signature   string `json:"signature"`
	Address     string `json:"address"`
	BountyID    string `json:"bountyId"`
	Creator     string `json:"creator"`
	Description string `json:"submissionDescription"`
}

// handleCreateSubmission accepts a submission signed by its author. The
// signature covers the body minus the signature and address fields.
func (h *primaryHandler) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	bountyID, err := bounty.ParseID(r.PathValue("bountyId"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid bountyId")
		return
	}
	body, ok := readBody(w, r, h.cfg.MaxBodyBytes)
	if !ok {
		return
	}
	var env submissionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return
	}

	if strings.TrimSpace(env.Signature) == "" || !common.IsHexAddress(strings.TrimSpace(env.Address)) {
		writeError(w, http.StatusForbidden, "Signature or Address Invalid")
		return
	}
	sig, err := sigverify.ParseSignatureHex(env.Signature)
	if err != nil {
		writeError(w, http.StatusForbidden, "Signature or Address Invalid")
		return
	}
	msg, err := sigverify.SubmissionMessage(body)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return
	}
	signer := common.HexToAddress(strings.TrimSpace(env.Address))
	if valid, err := sigverify.Verify(signer, msg, sig); err != nil || !valid {
		writeError(w, http.StatusForbidden, "Invalid signature")
		return
	}

	if env.BountyID != "" {
		if id, err := bounty.ParseID(env.BountyID); err != nil || id != bountyID {
			writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
			return
		}
	}
	if env.Creator != "" {
		creator, err := bounty.ParseAddress(env.Creator)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
			return
		}
		if creator != signer {
			writeError(w, http.StatusForbidden, "Creator does not match signer")
			return
		}
	}

	sub, created, err := h.store.InsertSubmission(r.Context(), bounty.Submission{
		BountyID:    bountyID,
		Creator:     signer,
		Description: env.Description,
	})
	switch {
	case errors.Is(err, bounty.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
	case errors.Is(err, bounty.ErrDuplicate):
		writeError(w, http.StatusBadRequest, "Submission already exists for this address")
	case err != nil:
		h.log.Error("create submission", "requestId", RequestID(r.Context()), "bountyId", bountyID.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong creating submission")
	case !created:
		writeError(w, http.StatusBadRequest, "Bounty is not open for submissions")
	default:
		writeJSON(w, http.StatusOK, sub)
	}
}
