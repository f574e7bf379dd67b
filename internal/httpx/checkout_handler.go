package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CheckoutReq struct {
	Items         []cart.Line `json:"items"`
	CouponCode    string      `json:"coupon_code"`
	PaymentMethod string      `json:"payment_method"`
}

type CheckoutHandler struct {
	Checkout    *checkout.Coordinator
	Idempotency *redisx.Idempotency
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req CheckoutReq
	if !decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	log := logging.From(ctx, nil)

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if h.Idempotency == nil {
		key = ""
	}
	if key != "" {
		prev, err := h.Idempotency.Claim(ctx, uid, key)
		switch {
		case apperr.Is(err, apperr.ReasonRequestInFlight):
			writeError(w, r, err)
			return
		case err != nil:
			// redis down: serve the request without replay protection
			log.Warn("idempotency_claim_failed", zap.String("key", key), zap.Error(err))
			key = ""
		case prev != nil:
			w.Header().Set(HeaderReplayed, "true")
			writeRaw(w, prev.Code, prev.Body)
			return
		}
	}

	o, err := h.Checkout.Checkout(ctx, checkout.Request{
		UserID:        uid,
		Cart:          cart.Cart{Lines: req.Items},
		CouponCode:    req.CouponCode,
		PaymentMethod: req.PaymentMethod,
	})
	code, env := http.StatusCreated, envelope{Status: true, Data: o}
	if err != nil {
		code, env = failure(err)
		if o.ID != "" {
			data, ok := env.Data.(map[string]any)
			if !ok {
				data = map[string]any{}
				env.Data = data
			}
			data["order_id"] = o.ID
			data["order_status"] = o.Status
		}
		if code >= http.StatusInternalServerError {
			log.Error("checkout_failed", zap.String("order_id", o.ID), zap.Int("code", code), zap.Error(err))
		}
	}
	body := render(env)

	if key != "" {
		h.remember(ctx, uid, key, o.ID, code, body)
	}
	writeRaw(w, code, body)
}

// remember stores the response for replay. A server error that created no
// order frees the key so the client can retry. Once an order exists the key
// stays bound to it, and a replay returns its id.
func (h *CheckoutHandler) remember(ctx context.Context, uid, key, orderID string, code int, body []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	var err error
	if code >= http.StatusInternalServerError && orderID == "" {
		err = h.Idempotency.Abandon(ctx, uid, key)
	} else {
		err = h.Idempotency.Complete(ctx, uid, key, redisx.Response{Code: code, Body: body})
	}
	if err != nil {
		logging.From(ctx, nil).Warn("idempotency_store_failed", zap.String("key", key), zap.Error(err))
	}
}
