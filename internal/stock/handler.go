package stock

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/httpx"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
)

// Handler wires HTTP endpoints for the stock module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/stock", func(r chi.Router) {
		r.Post("/entries", h.handleMovement(h.service.Entry))
		r.Post("/exits", h.handleMovement(h.service.Exit))
		r.Post("/returns", h.handleMovement(h.service.Return))
		r.Post("/reserves", h.handleMovement(h.service.Reserve))
		r.Post("/adjustments", h.handleMovement(h.service.Adjust))
		r.Get("/balances", h.handleListBalances)
		r.Get("/balances/{warehouseID}/{productID}", h.handleGetBalance)
		r.Get("/ledger", h.handleLedger)
	})
}

type movementPayload struct {
	Code        string  `json:"code"`
	WarehouseID int64   `json:"warehouse_id" validate:"required,gt=0"`
	ProductID   int64   `json:"product_id" validate:"required,gt=0"`
	Lot         string  `json:"lot" validate:"max=64"`
	Qty         float64 `json:"qty" validate:"required"`
	UnitCost    float64 `json:"unit_cost" validate:"gte=0"`
	Note        string  `json:"note" validate:"max=500"`
	RefModule   string  `json:"ref_module" validate:"max=50"`
	RefID       string  `json:"ref_id" validate:"omitempty,uuid4"`
}

func (h *Handler) handleMovement(post func(ctx context.Context, input MovementInput) (LedgerEntry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		var payload movementPayload
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
			return
		}
		if err := h.validate.Struct(payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}

		entry, err := post(r.Context(), MovementInput{
			Code:        payload.Code,
			TenantID:    actor.TenantID,
			WarehouseID: payload.WarehouseID,
			ProductID:   payload.ProductID,
			Lot:         payload.Lot,
			Qty:         payload.Qty,
			UnitCost:    payload.UnitCost,
			Note:        payload.Note,
			ActorID:     actor.UserID,
			RefModule:   payload.RefModule,
			RefID:       payload.RefID,
		})
		if err != nil {
			h.respondMovementError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, entry)
	}
}

func (h *Handler) respondMovementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost), errors.Is(err, ErrInvalidKind):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Movement", err.Error())
	default:
		h.logger.Error("post movement failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	warehouseID, err := strconv.ParseInt(chi.URLParam(r, "warehouseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "warehouse id must be numeric")
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "product id must be numeric")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), actor.TenantID, warehouseID, productID, r.URL.Query().Get("lot"))
	if errors.Is(err, ErrBalanceNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("get balance failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) handleListBalances(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.ParsePage(r, 200, 500)
	filter := BalanceFilter{Limit: page.Limit, Offset: page.Offset}
	if v, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64); err == nil {
		filter.WarehouseID = v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64); err == nil {
		filter.ProductID = v
	}
	filter.Lot = r.URL.Query().Get("lot")
	if v, err := strconv.ParseFloat(r.URL.Query().Get("below_qty"), 64); err == nil {
		filter.BelowQty = &v
	}

	balances, err := h.service.ListBalances(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.logger.Error("list balances failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": balances})
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.ParsePage(r, 200, 500)
	filter := LedgerFilter{Limit: page.Limit, Offset: page.Offset}
	q := r.URL.Query()
	if v, err := strconv.ParseInt(q.Get("warehouse_id"), 10, 64); err == nil {
		filter.WarehouseID = v
	}
	if v, err := strconv.ParseInt(q.Get("product_id"), 10, 64); err == nil {
		filter.ProductID = v
	}
	filter.Lot = q.Get("lot")
	if k := q.Get("kind"); k != "" {
		filter.Kind = MovementKind(k)
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "to must be YYYY-MM-DD")
			return
		}
		// End of day
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	entries, err := h.service.Ledger(r.Context(), actor.TenantID, filter)
	if err != nil {
		h.logger.Error("list ledger failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}
