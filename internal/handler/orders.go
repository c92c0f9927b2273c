package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"

	"github.com/gtinworks/fulfillment/internal/order"
	"github.com/gtinworks/fulfillment/internal/product"
)

// OrdersHandler covers the synchronous order surface: reads and the
// bank-slip transition.
type OrdersHandler struct {
	svc      *order.Service
	orders   *order.Repository
	products *product.Repository
}

func NewOrdersHandler(svc *order.Service, orders *order.Repository, products *product.Repository) *OrdersHandler {
	return &OrdersHandler{svc: svc, orders: orders, products: products}
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// UploadBankSlip attaches a slip path to the order, moving it to
// pending_activation. Re-uploading replaces the previous slip.
func (h *OrdersHandler) UploadBankSlip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.svc.UploadBankSlip(r.Context(), chi.URLParam(r, "orderNumber"), body.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishProduct attaches a purchased code to the product, consuming it
// (sold -> used).
func (h *OrdersHandler) PublishProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var body struct {
		CodeID uuid.UUID `json:"code_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CodeID.IsNil() {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.products.Publish(r.Context(), id, body.CodeID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	if err := h.products.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
