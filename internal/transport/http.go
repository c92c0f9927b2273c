package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gtinworks/fulfillment/internal/handler"
)

func NewRouter(jobs *handler.JobsHandler, orders *handler.OrdersHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Post("/checkout", jobs.Checkout)
	r.Post("/orders/{orderNumber}/activate", jobs.ActivateOrder)
	r.Delete("/orders/{orderNumber}", jobs.DeleteOrder)
	r.Delete("/users/{id}", jobs.DeleteUser)
	r.Post("/codes/import", jobs.ImportCodes)
	r.Post("/aggregations", jobs.AggregationBatch)
	r.Post("/assignments/{assignmentID}/certificate", jobs.GenerateCertificate)
	r.Get("/jobs/{id}", jobs.GetJob)

	r.Get("/orders/{orderNumber}", orders.GetOrder)
	r.Post("/orders/{orderNumber}/slip", orders.UploadBankSlip)
	r.Post("/products/{id}/publish", orders.PublishProduct)
	r.Delete("/products/{id}", orders.DeleteProduct)

	return r
}
