package webhook

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/pkg/response"
)

const maxBodyBytes = 1 << 20

// Parser turns a raw verified body into a normalized Event
type Parser func(body []byte) (*Event, error)

// Handler terminates provider callbacks. Signature failures are the
// only rejection; everything after verification acks 200 so providers
// do not retry-storm us over business outcomes.
type Handler struct {
	service       *Service
	mpesaSecret   string
	airtimeSecret string
}

// NewHandler creates webhook handler
func NewHandler(service *Service, mpesaSecret, airtimeSecret string) *Handler {
	return &Handler{
		service:       service,
		mpesaSecret:   mpesaSecret,
		airtimeSecret: airtimeSecret,
	}
}

// Routes mounts the callback endpoints. These are unauthenticated by
// design; the HMAC signature is the credential.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/mpesa/stk", h.handle(h.mpesaSecret, ParseStkCallback))
	r.Post("/mpesa/b2c", h.handle(h.mpesaSecret, ParseB2CResult))
	r.Post("/airtime", h.handle(h.airtimeSecret, ParseAirtimeCallback))
	return r
}

func (h *Handler) handle(secret string, parse Parser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			response.BadRequest(w, "Failed to read request body")
			return
		}

		if err := VerifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
			log.Warn().
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Msg("Rejected callback with bad signature")
			response.Unauthorized(w, "Invalid signature")
			return
		}

		// Past the signature check, the provider always gets a 200.
		// Anything else triggers redelivery, and redelivering a body
		// we could not reconcile only amplifies the problem. Failures
		// are observable via logs and the expvar counters instead.
		event, err := parse(body)
		if err != nil {
			statMalformed.Add(1)
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("Malformed callback payload")
			response.OK(w, map[string]string{"result": "accepted"})
			return
		}

		if err := h.service.Process(r.Context(), event, body); err != nil {
			statProcessErrors.Add(1)
			log.Error().Err(err).
				Str("provider", event.Provider).
				Str("external_ref", event.ExternalRef).
				Msg("Callback processing failed")
		}

		response.OK(w, map[string]string{"result": "accepted"})
	}
}
