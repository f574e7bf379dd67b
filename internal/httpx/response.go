package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"go.uber.org/zap"
)

const msgInternal = "internal server error"

// envelope is the jsend-style body of every response.
type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

func render(env envelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		zap.L().Error("response_encode_failed", zap.Error(err))
		b, _ = json.Marshal(envelope{Message: msgInternal})
	}
	return b
}

func writeRaw(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	writeRaw(w, code, render(envelope{Status: true, Data: data}))
}

func writeFail(w http.ResponseWriter, code int, msg string, data any) {
	writeRaw(w, code, render(envelope{Message: msg, Data: data}))
}

// writeError maps err onto a status code and writes the failure envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, env := failure(err)
	if code >= http.StatusInternalServerError {
		logging.From(r.Context(), nil).Error("request_failed", zap.Int("code", code), zap.Error(err))
	}
	writeRaw(w, code, render(env))
}

// failure maps err onto a status code and a failure envelope. Integrity and
// unclassified errors never reach the body.
func failure(err error) (int, envelope) {
	code := StatusOf(err)
	if code == http.StatusInternalServerError {
		return code, envelope{Message: msgInternal}
	}
	var (
		ve *apperr.ValidationError
		ce *apperr.ConflictError
		pe *apperr.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		return code, envelope{Message: ve.Message, Data: map[string]any{"reason": ve.Reason}}
	case errors.As(err, &ce):
		data := map[string]any{"reason": ce.Reason}
		if ce.ProductID != "" {
			data["product_id"] = ce.ProductID
			data["requested"] = ce.Requested
			data["available"] = ce.Available
		}
		if ce.OrderID != "" {
			data["order_id"] = ce.OrderID
		}
		return code, envelope{Message: ce.Message, Data: data}
	case errors.As(err, &pe):
		return code, envelope{Message: providerMessage(pe.Reason), Data: map[string]any{"reason": pe.Reason}}
	}
	return code, envelope{Message: msgInternal}
}

// StatusOf is the HTTP status for an error of the checkout core.
func StatusOf(err error) int {
	var ie *apperr.IntegrityError
	if errors.As(err, &ie) {
		return http.StatusInternalServerError
	}
	switch apperr.ReasonOf(err) {
	case apperr.ReasonInsufficientStock, apperr.ReasonStaleState,
		apperr.ReasonRequestInFlight, apperr.ReasonDuplicate, apperr.ReasonAlreadyRefunded:
		return http.StatusConflict
	case apperr.ReasonDeclined:
		return http.StatusPaymentRequired
	case apperr.ReasonCouponNotFound, apperr.ReasonCouponExpired, apperr.ReasonUsageLimitExceeded,
		apperr.ReasonNotApplicable, apperr.ReasonInvalidCart, apperr.ReasonInvalidInput,
		apperr.ReasonUnknownProduct:
		return http.StatusBadRequest
	case apperr.ReasonOrderNotFound, apperr.ReasonTokenNotFound:
		return http.StatusNotFound
	case apperr.ReasonProviderUnavailable, apperr.ReasonTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// provider messages stay generic so no payment detail leaks to the client
func providerMessage(reason apperr.Reason) string {
	switch reason {
	case apperr.ReasonDeclined:
		return "payment declined"
	case apperr.ReasonProviderUnavailable, apperr.ReasonTimeout:
		return "payment provider unavailable, try again later"
	}
	return "payment could not be processed"
}
