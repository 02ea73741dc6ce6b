package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-erp/meridian-erp/internal/creditnote"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/deposit"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	InvoiceHandler    *invoice.Handler
	DepositHandler    *deposit.Handler
	CreditNoteHandler *creditnote.Handler
	CustomerHandler   *customer.Handler
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/invoices", params.InvoiceHandler.MountRoutes)
	r.Route("/deposits", params.DepositHandler.MountRoutes)
	r.Route("/credit-notes", params.CreditNoteHandler.MountRoutes)
	r.Route("/customers", params.CustomerHandler.MountRoutes)

	return r
}
