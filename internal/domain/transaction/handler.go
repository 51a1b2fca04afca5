package transaction

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/middleware"
	"github.com/pesasats/pesasats-api/internal/pkg/response"
	"github.com/pesasats/pesasats-api/internal/pkg/validator"
)

// Handler handles transaction HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates transaction handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the authenticated transaction routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/buy", h.submit(KindBuy))
	r.Post("/payout", h.submit(KindPayout))
	r.Post("/airtime", h.submit(KindAirtime))
	r.Get("/{id}", h.Get)
	return r
}

func (h *Handler) submit(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid request body")
			return
		}
		if details := validator.Validate(req); details != nil {
			response.ValidationError(w, details)
			return
		}

		userID := middleware.GetUserID(r.Context())
		t, err := h.service.Submit(r.Context(), userID, kind, &req)
		if err != nil {
			switch {
			case errors.Is(err, ErrBelowMinimum):
				response.BadRequest(w, err.Error())
			case errors.Is(err, ErrQueueUnavailable), errors.Is(err, ErrRailUnavailable):
				response.ServiceUnavailable(w, "Unable to accept transaction right now")
			default:
				log.Error().Err(err).Str("kind", string(kind)).Msg("Transaction intake failed")
				response.InternalError(w)
			}
			return
		}

		response.Accepted(w, ToResponse(t))
	}
}

// Get returns the current state of one transaction
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid transaction id")
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "Transaction not found")
			return
		}
		log.Error().Err(err).Str("transaction_id", id.String()).Msg("Failed to load transaction")
		response.InternalError(w)
		return
	}

	response.OK(w, ToResponse(t))
}
