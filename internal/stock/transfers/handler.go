package transfers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/httpx"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
	"github.com/fieldworks-erp/fieldworks-erp/internal/stock"
)

// Handler wires HTTP endpoints for transfers.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{id}", h.Show)
		r.Post("/{id}/accept", h.Accept)
		r.Post("/{id}/reject", h.Reject)
	})
}

type linePayload struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Lot       string  `json:"lot" validate:"max=64"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
}

type createPayload struct {
	Code           string        `json:"code"`
	SrcWarehouseID int64         `json:"src_warehouse_id" validate:"required,gt=0"`
	DstWarehouseID int64         `json:"dst_warehouse_id" validate:"required,gt=0"`
	Lines          []linePayload `json:"lines" validate:"required,min=1,max=100,dive"`
	Note           string        `json:"note" validate:"max=500"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]LineInput, 0, len(payload.Lines))
	for _, line := range payload.Lines {
		lines = append(lines, LineInput{ProductID: line.ProductID, Lot: line.Lot, Qty: line.Qty})
	}

	created, err := h.service.Create(r.Context(), CreateInput{
		Code:           payload.Code,
		TenantID:       actor.TenantID,
		SrcWarehouseID: payload.SrcWarehouseID,
		DstWarehouseID: payload.DstWarehouseID,
		Lines:          lines,
		Note:           payload.Note,
		ActorID:        actor.UserID,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return
	}

	updated, err := h.service.Accept(r.Context(), actor.TenantID, id, actor.UserID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return
	}
	var payload rejectPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	updated, err := h.service.Reject(r.Context(), actor.TenantID, id, actor.UserID, payload.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "transfer id must be numeric")
		return
	}

	transfer, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, transfer)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.ParsePage(r, 100, 500)
	filters := ListFilters{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  page.Limit,
		Offset: page.Offset,
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64); err == nil {
		filters.WarehouseID = v
	}
	if r.URL.Query().Get("mine") == "true" {
		filters.RecipientID = &actor.UserID
	}

	transfers, err := h.service.List(r.Context(), actor.TenantID, filters)
	if err != nil {
		h.logger.Error("list transfers failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": transfers})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Already Decided", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, stock.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("transfer operation failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
