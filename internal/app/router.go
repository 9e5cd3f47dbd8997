package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fieldworks-erp/fieldworks-erp/internal/alerts"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/inventories"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/tools"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock/transfers"
	syncgw "github.com/fieldworks-erp/fieldworks-erp/internal/sync"
	"github.com/fieldworks-erp/fieldworks-erp/internal/warehouses"
	"github.com/fieldworks-erp/fieldworks-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	WarehouseHandler *warehouses.Handler
	StockHandler     *stock.Handler
	TransferHandler  *transfers.Handler
	InventoryHandler *inventories.Handler
	ToolHandler      *tools.Handler
	SyncHandler      *syncgw.Handler
	AlertHandler     *alerts.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with Fieldworks defaults.
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

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	// Everything below requires a resolved actor.
	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(params.Logger))

		if params.WarehouseHandler != nil {
			params.WarehouseHandler.MountRoutes(r)
		}
		if params.StockHandler != nil {
			params.StockHandler.MountRoutes(r)
		}
		if params.TransferHandler != nil {
			params.TransferHandler.MountRoutes(r)
		}
		if params.InventoryHandler != nil {
			params.InventoryHandler.MountRoutes(r)
		}
		if params.ToolHandler != nil {
			params.ToolHandler.MountRoutes(r)
		}
		if params.SyncHandler != nil {
			params.SyncHandler.MountRoutes(r)
		}
		if params.AlertHandler != nil {
			params.AlertHandler.MountRoutes(r)
		}
	})

	return r
}
