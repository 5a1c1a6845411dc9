package bountyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bountyboard/bountyd/internal/bounty"
	"github.com/bountyboard/bountyd/internal/reconcile"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("bountyapi: invalid config")

const (
	HeaderRequestID     = "X-Request-ID"
	DefaultMaxBodyBytes = 64 << 10

	msgInvalidForm = "Invalid formData"
)

// Reconciler is the verified-write path both services share.
type Reconciler interface {
	CreateBounty(ctx context.Context, b bounty.Bounty) (bounty.Bounty, reconcile.Outcome, error)
	CompleteBounty(ctx context.Context, c bounty.Completion) (reconcile.Outcome, error)
}

type Config struct {
	RateLimitPerIPPerSecond float64
	RateLimitBurst          int
	RateLimitMaxTrackedIPs  int

	MaxBodyBytes int64

	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler

	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.RateLimitPerIPPerSecond <= 0 {
		c.RateLimitPerIPPerSecond = 20
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if c.RateLimitMaxTrackedIPs <= 0 {
		c.RateLimitMaxTrackedIPs = 10_000
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type errorBody struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode"`
}

type messageBody struct {
	Message string        `json:"message"`
	Pending bool          `json:"pending,omitempty"`
	Bounty  *bounty.Bounty `json:"bounty,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Message: msg, StatusCode: code})
}

// readBody reads at most limit bytes of the request body. It writes the error
// response itself and reports false on failure.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Body exceeds %d bytes", tooBig.Limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Could not read body")
		return nil, false
	}
	return body, true
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var out T
	body, ok := readBody(w, r, limit)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(body, &out); err != nil {
		writeError(w, http.StatusUnprocessableEntity, msgInvalidForm)
		return out, false
	}
	return out, true
}

type ctxKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// serve wraps mux with request ids, access logging and per-IP rate limiting.
func serve(cfg Config, mux *http.ServeMux, log *slog.Logger) http.Handler {
	limiter := newIPRateLimiter(cfg.RateLimitPerIPPerSecond, float64(cfg.RateLimitBurst), cfg.RateLimitMaxTrackedIPs)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, reqID)
		r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, reqID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := cfg.Now()
		defer func() {
			log.Debug("http request",
				"requestId", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"elapsed", cfg.Now().Sub(start),
			)
		}()

		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			mux.ServeHTTP(rec, r)
			return
		}

		rec.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RateLimitBurst))
		if !limiter.Allow(clientIP(r), cfg.Now().UTC()) {
			rec.Header().Set("Retry-After", "1")
			writeError(rec, http.StatusTooManyRequests, "Too many requests")
			return
		}
		mux.ServeHTTP(rec, r)
	})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// reads serves the query routes both services expose.
type reads struct {
	store bounty.Store
	log   *slog.Logger
}

func (h *reads) handleListBounties(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListBounties(r.Context())
	if err != nil {
		h.log.Error("list bounties", "requestId", RequestID(r.Context()), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type bountyWithSubmissions struct {
	bounty.Bounty
	Submissions []bounty.Submission `json:"submissions"`
}

func (h *reads) handleGetBounty(w http.ResponseWriter, r *http.Request) {
	id, err := bounty.ParseID(r.PathValue("bountyId"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid bountyId")
		return
	}
	b, err := h.store.GetBounty(r.Context(), id)
	if errors.Is(err, bounty.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Bounty not found")
		return
	}
	if err != nil {
		h.log.Error("get bounty", "requestId", RequestID(r.Context()), "bountyId", id.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	subs, err := h.store.ListSubmissions(r.Context(), id)
	if err != nil {
		h.log.Error("list submissions", "requestId", RequestID(r.Context()), "bountyId", id.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, bountyWithSubmissions{Bounty: b, Submissions: subs})
}

func (h *reads) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	id, err := bounty.ParseID(r.PathValue("bountyId"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid bountyId")
		return
	}
	subs, err := h.store.ListSubmissions(r.Context(), id)
	if err != nil {
		h.log.Error("list submissions", "requestId", RequestID(r.Context()), "bountyId", id.Hex(), "err", err)
		writeError(w, http.StatusInternalServerError, "Something went wrong")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

type createBountyRequest struct {
	ID          string `json:"id"`
	Creator     string `json:"creator"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Token       string `json:"token"`
	ChainID     uint64 `json:"chainId"`
	Status      string `json:"status"`
}

// toBounty converts the wire form. Any client amount is ignored; the
// reconciler takes it from the chain.
func (req createBountyRequest) toBounty() (bounty.Bounty, error) {
	id, err := bounty.ParseID(req.ID)
	if err != nil {
		return bounty.Bounty{}, err
	}
	creator, err := bounty.ParseAddress(req.Creator)
	if err != nil {
		return bounty.Bounty{}, err
	}
	return bounty.Bounty{
		ID:          id,
		Creator:     creator,
		Title:       req.Title,
		Description: req.Description,
		Token:       req.Token,
		ChainID:     req.ChainID,
		Status:      bounty.Status(req.Status),
	}, nil
}

// looseInt64 accepts a JSON number or a decimal string.
type looseInt64 int64

func (v *looseInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("bountyapi: not an integer: %s", b)
	}
	*v = looseInt64(n)
	return nil
}

type completeBountyRequest struct {
	Hash         string     `json:"hash"`
	BountyID     string     `json:"bountyId"`
	SubmissionID looseInt64 `json:"submissionId"`
	TokenType    string     `json:"tokenType"`
}

// toCompletion converts the wire form. pathID, when non-empty, must agree
// with the body's bountyId.
func (req completeBountyRequest) toCompletion(pathID string) (bounty.Completion, error) {
	hash, err := bounty.ParseID(req.Hash)
	if err != nil {
		return bounty.Completion{}, err
	}
	raw := req.BountyID
	if raw == "" {
		raw = pathID
	}
	id, err := bounty.ParseID(raw)
	if err != nil {
		return bounty.Completion{}, err
	}
	if pathID != "" {
		pid, err := bounty.ParseID(pathID)
		if err != nil || pid != id {
			return bounty.Completion{}, fmt.Errorf("%w: bountyId does not match path", bounty.ErrInvalid)
		}
	}
	return bounty.Completion{
		Hash:         hash,
		BountyID:     id,
		SubmissionID: int64(req.SubmissionID),
		TokenType:    req.TokenType,
	}, nil
}
