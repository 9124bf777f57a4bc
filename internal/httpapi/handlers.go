package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/icycon/emailengine"
	"github.com/icycon/emailengine/pkg/logger"
)

// TenantHeader carries the caller's tenant id. Authentication happens in
// front of this service.
const TenantHeader = "X-Tenant-ID"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// Engine is the part of the engine the API exposes.
type Engine interface {
	SubmitSend(ctx context.Context, req emailengine.SendRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, tenantID int64, id uuid.UUID) (emailengine.SendRecord, error)
	Cancel(ctx context.Context, tenantID int64, id uuid.UUID) error
	History(ctx context.Context, tenantID int64, id uuid.UUID) ([]emailengine.Event, error)
	ListSends(ctx context.Context, tenantID int64, state emailengine.State, limit int) ([]emailengine.SendRecord, error)
	RecordFeedback(ctx context.Context, tenantID int64, providerMessageID string, kind emailengine.FeedbackKind) error
}

// handlerFunc is an HTTP handler that reports failures as errors.
type handlerFunc func(w http.ResponseWriter, r *http.Request) error

type handlers struct {
	engine  Engine
	consent ConsentManager
	log     *slog.Logger
}

// handle renders the error returned by h.
func (h *handlers) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}

		httpErr := toHTTPError(err)
		if httpErr.Code >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "request failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, httpErr.Code, errorResponse{
			Error:     httpErr.Message,
			Code:      httpErr.ErrorCode,
			RequestID: middleware.GetReqID(r.Context()),
		})
	}
}

type tenantKey struct{}

// requireTenant rejects requests without a positive X-Tenant-ID.
func (h *handlers) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.ParseInt(r.Header.Get(TenantHeader), 10, 64)
		if err != nil || tenantID <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:     TenantHeader + " header must be a positive integer",
				Code:      "missing_tenant",
				RequestID: middleware.GetReqID(r.Context()),
			})
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, tenantID)
		ctx = logger.WithTenantID(ctx, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(tenantKey{}).(int64)
	return id
}

func sendID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errBadRequest("send id must be a UUID", err)
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errBadRequest("malformed JSON body", err)
	}
	return nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type submitRequest struct {
	Recipient  string `json:"recipient"`
	ContentRef string `json:"content_ref"`
	Nonce      string `json:"nonce"`
}

type submitResponse struct {
	ID        uuid.UUID `json:"id"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) error {
	var req submitRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}

	id, err := h.engine.SubmitSend(r.Context(), emailengine.SendRequest{
		TenantID:   tenantFrom(r.Context()),
		Recipient:  req.Recipient,
		ContentRef: req.ContentRef,
		Nonce:      req.Nonce,
	})
	if errors.Is(err, emailengine.ErrDuplicateRequest) {
		writeJSON(w, http.StatusOK, submitResponse{ID: id, Duplicate: true})
		return nil
	}
	if err != nil {
		return err
	}

	writeJSON(w, http.StatusCreated, submitResponse{ID: id})
	return nil
}

// list serves GET /v1/sends?state=&limit=.
func (h *handlers) list(w http.ResponseWriter, r *http.Request) error {
	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return newHTTPError(http.StatusUnprocessableEntity, "invalid_request", "limit must be a positive integer", err)
		}
		limit = n
	}

	state := emailengine.State(r.URL.Query().Get("state"))
	sends, err := h.engine.ListSends(r.Context(), tenantFrom(r.Context()), state, limit)
	if err != nil {
		return err
	}
	if sends == nil {
		sends = []emailengine.SendRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sends": sends})
	return nil
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) error {
	id, err := sendID(r)
	if err != nil {
		return err
	}
	rec, err := h.engine.GetStatus(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rec)
	return nil
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) error {
	id, err := sendID(r)
	if err != nil {
		return err
	}
	if err := h.engine.Cancel(r.Context(), tenantFrom(r.Context()), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) error {
	id, err := sendID(r)
	if err != nil {
		return err
	}
	events, err := h.engine.History(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
	return nil
}

type feedbackRequest struct {
	ProviderMessageID string                   `json:"provider_message_id"`
	Kind              emailengine.FeedbackKind `json:"kind"`
}

func (h *handlers) feedback(w http.ResponseWriter, r *http.Request) error {
	var req feedbackRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if err := h.engine.RecordFeedback(r.Context(), tenantFrom(r.Context()), req.ProviderMessageID, req.Kind); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type contactRequest struct {
	Email string `json:"email"`
}

func (h *handlers) setConsent(subscribe bool) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req contactRequest
		if err := decode(w, r, &req); err != nil {
			return err
		}

		tenantID := tenantFrom(r.Context())
		var err error
		if subscribe {
			err = h.consent.Resubscribe(r.Context(), tenantID, req.Email)
		} else {
			err = h.consent.Unsubscribe(r.Context(), tenantID, req.Email)
		}
		if err != nil {
			return err
		}

		h.log.InfoContext(r.Context(), "recipient consent changed",
			logger.Email(req.Email),
			slog.Bool("subscribed", subscribe),
		)
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
