// Package portal serves the tenant signing pages' JSON API. Every call under
// /sign/{lease} is authorized by the signing link token alone.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/leaseflow/internal/convert"
	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/logging"
	"github.com/and161185/leaseflow/internal/model"
	"github.com/and161185/leaseflow/internal/service"
)

const maxBodyBytes = 2 << 20

// Config wires the portal.
type Config struct {
	Signing  service.SigningService
	Disputes service.DisputeService
	Log      *zap.Logger
	// Ping reports storage health for /healthz; nil means always healthy.
	Ping    func(ctx context.Context) error
	Timeout time.Duration
}

type handler struct {
	signing  service.SigningService
	disputes service.DisputeService
	ping     func(ctx context.Context) error
}

// New builds the portal router.
func New(cfg Config) http.Handler {
	h := &handler{signing: cfg.Signing, disputes: cfg.Disputes, ping: cfg.Ping}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", h.health)
	r.Route("/sign/{lease}", func(r chi.Router) {
		r.Use(h.link)
		r.Get("/", h.status)
		r.Post("/otp", h.requestOTP)
		r.Post("/otp/verify", h.verifyOTP)
		r.Post("/signature", h.signature)
		r.Post("/dispute", h.dispute)
	})
	return r
}

type ctxKey struct{}

type linkCtx struct {
	leaseID uuid.UUID
	actor   model.Actor
}

func fromCtx(ctx context.Context) linkCtx {
	lc, _ := ctx.Value(ctxKey{}).(linkCtx)
	return lc
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// link verifies the signing token against the path lease on every request.
func (h *handler) link(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaseID, err := uuid.FromString(chi.URLParam(r, "lease"))
		if err != nil {
			writeErr(w, r, errs.ErrLinkInvalid)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimSpace(r.Header.Get("X-Signing-Token"))
		}
		if token == "" {
			writeErr(w, r, errs.ErrLinkInvalid)
			return
		}
		tenantID, err := h.signing.VerifyLink(r.Context(), leaseID, token)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		lc := linkCtx{
			leaseID: leaseID,
			actor:   model.UserActor(tenantID, model.RoleTenant, clientIP(r), r.UserAgent()),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, lc)))
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			logging.FromContext(r.Context(), zap.NewNop()).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	lc := fromCtx(r.Context())
	st, err := h.signing.Status(r.Context(), lc.leaseID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.SigningStatusMap(st))
}

func (h *handler) requestOTP(w http.ResponseWriter, r *http.Request) {
	lc := fromCtx(r.Context())
	if err := h.signing.RequestOTP(r.Context(), lc.leaseID, lc.actor); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

type verifyBody struct {
	Code string `json:"code"`
}

func (h *handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	lc := fromCtx(r.Context())
	var body verifyBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	ok, err := h.signing.VerifyOTP(r.Context(), lc.leaseID, strings.TrimSpace(body.Code), lc.actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !ok {
		writeErr(w, r, errs.ErrVerificationFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

type signatureBody struct {
	Signature []byte   `json:"signature"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *handler) signature(w http.ResponseWriter, r *http.Request) {
	lc := fromCtx(r.Context())
	var body signatureBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	sig, err := h.signing.CaptureSignature(r.Context(), lc.leaseID, service.SignatureInput{
		Data:      body.Signature,
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
	}, lc.actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"signature_id": sig.ID.String(),
		"content_hash": sig.ContentHash,
		"signed_at":    sig.SignedAt.UTC().Format(time.RFC3339),
	})
}

type disputeBody struct {
	Reason  string `json:"reason"`
	Comment string `json:"comment"`
}

func (h *handler) dispute(w http.ResponseWriter, r *http.Request) {
	lc := fromCtx(r.Context())
	var body disputeBody
	if err := decode(w, r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	l, err := h.disputes.Dispute(r.Context(), lc.leaseID, model.DisputeReason(body.Reason), body.Comment, lc.actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflow_state": string(l.WorkflowState)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(errs.ErrInvalidArgument, err)
	}
	return nil
}

var httpStatus = map[string]int{
	errs.CodeInvalidTransition:      http.StatusConflict,
	errs.CodeAlreadyApproved:        http.StatusConflict,
	errs.CodeAlreadyRejected:        http.StatusConflict,
	errs.CodeAlreadyPendingApproval: http.StatusConflict,
	errs.CodeAlreadySigned:          http.StatusConflict,
	errs.CodeConflict:               http.StatusConflict,
	errs.CodeNoLandlord:             http.StatusUnprocessableEntity,
	errs.CodeVerificationFailed:     http.StatusUnprocessableEntity,
	errs.CodeInvalidArgument:        http.StatusBadRequest,
	errs.CodeRateLimitExceeded:      http.StatusTooManyRequests,
	errs.CodeSendingFailure:         http.StatusBadGateway,
	errs.CodeLinkInvalid:            http.StatusUnauthorized,
	errs.CodeNotFound:               http.StatusNotFound,
	errs.CodeNoPendingApproval:      http.StatusNotFound,
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.Code(err)
	st, ok := httpStatus[code]
	if !ok {
		st = http.StatusInternalServerError
		logging.FromContext(r.Context(), zap.NewNop()).Error("portal", zap.Error(err))
	}
	writeJSON(w, st, map[string]any{
		"error": map[string]any{"code": code, "message": errs.Message(err)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
