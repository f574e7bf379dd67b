package httpx

import (
	"net/http"

	"github.com/ariefcatur/go-checkout-core/internal/checkout"
	"github.com/ariefcatur/go-checkout-core/internal/logging"
	"github.com/ariefcatur/go-checkout-core/internal/orders"
	"github.com/ariefcatur/go-checkout-core/internal/redisx"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Checkout *checkout.Coordinator
	Status   *redisx.StatusCache
}

type StatusResp struct {
	redisx.OrderStatus
	Source string `json:"source"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", h.getOrder)
		r.Get("/status", h.getStatus)
		r.Get("/payments", h.listAttempts)
		r.Post("/cancel", h.cancel)
		r.Post("/fulfill", h.fulfill)
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Checkout.Order(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getStatus answers from the projected cache when it can and fills the cache
// from the store on a miss.
func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	log := logging.From(ctx, nil)

	if h.Status != nil {
		s, ok, err := h.Status.Get(ctx, id)
		if err != nil {
			log.Warn("status_cache_get_failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, StatusResp{OrderStatus: s, Source: "cache"})
			return
		}
	}

	o, err := h.Checkout.Order(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := redisx.OrderStatus{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt}
	if h.Status != nil {
		if _, err := h.Status.SetIfNewer(ctx, s); err != nil {
			log.Warn("status_cache_set_failed", zap.String("order_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, StatusResp{OrderStatus: s, Source: "store"})
}

func (h *OrdersHandler) listAttempts(w http.ResponseWriter, r *http.Request) {
	as, err := h.Checkout.Attempts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if as == nil {
		as = []orders.Attempt{}
	}
	writeJSON(w, http.StatusOK, as)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.Checkout.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.refresh(r, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) fulfill(w http.ResponseWriter, r *http.Request) {
	o, err := h.Checkout.Fulfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.refresh(r, o)
	writeJSON(w, http.StatusOK, o)
}

// refresh updates the cache ahead of the projector so a read right after a
// write sees it.
func (h *OrdersHandler) refresh(r *http.Request, o orders.Order) {
	if h.Status == nil {
		return
	}
	s := redisx.OrderStatus{OrderID: o.ID, Status: string(o.Status), UpdatedAt: o.UpdatedAt}
	if _, err := h.Status.SetIfNewer(r.Context(), s); err != nil {
		logging.From(r.Context(), nil).Warn("status_cache_set_failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
