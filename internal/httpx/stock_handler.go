package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-checkout-core/internal/apperr"
	"github.com/ariefcatur/go-checkout-core/internal/inventory"
	"github.com/go-chi/chi/v5"
)

type SetStockReq struct {
	Available *int `json:"available"`
}

type StockHandler struct {
	Ledger inventory.Ledger
}

func (h *StockHandler) Register(r chi.Router) {
	r.Get("/products/{id}/stock", h.get)
	r.Put("/products/{id}/stock", h.set)
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Ledger.Record(r.Context(), chi.URLParam(r, "id"))
	if apperr.Is(err, apperr.ReasonUnknownProduct) {
		writeFail(w, http.StatusNotFound, "product not found", nil)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// set overwrites the available count of a product, creating its record on
// first use. Reserved units are untouched.
func (h *StockHandler) set(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req SetStockReq
	if !decode(w, r, &req) {
		return
	}
	if req.Available == nil {
		writeFail(w, http.StatusBadRequest, "available is required", nil)
		return
	}
	rec, err := h.Ledger.SetAvailable(r.Context(), id, *req.Available)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
