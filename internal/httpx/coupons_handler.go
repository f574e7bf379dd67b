package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/cart"
	"github.com/ariefcatur/go-checkout-core/internal/coupons"
	"github.com/go-chi/chi/v5"
)

type QuoteReq struct {
	Items []cart.Line `json:"items"`
}

type CouponsHandler struct {
	Coupons *coupons.Engine
}

func (h *CouponsHandler) Register(r chi.Router) {
	r.Post("/coupons", h.create)
	r.Get("/coupons/{code}", h.get)
	r.Post("/coupons/{code}/quote", h.quote)
}

func (h *CouponsHandler) create(w http.ResponseWriter, r *http.Request) {
	var c coupons.Coupon
	if !decode(w, r, &c) {
		return
	}
	created, err := h.Coupons.Create(r.Context(), c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *CouponsHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if apperr.Is(err, apperr.ReasonCouponNotFound) {
		writeFail(w, http.StatusNotFound, "coupon not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// quote prices a cart with the coupon without redeeming it.
func (h *CouponsHandler) quote(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req QuoteReq
	if !decode(w, r, &req) {
		return
	}
	k := cart.Cart{Lines: req.Items}
	if err := k.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.Coupons.Validate(r.Context(), chi.URLParam(r, "code"), k, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}
