package tools

import (
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

// Handler wires HTTP endpoints for tool checkouts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/tools/checkouts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Checkout)
		r.Get("/{id}", h.Show)
		r.Post("/{id}/checkin", h.Checkin)
	})
}

type checkoutPayload struct {
	ToolID      int64      `json:"tool_id" validate:"required,gt=0"`
	UserID      int64      `json:"user_id" validate:"gte=0"`
	WarehouseID int64      `json:"warehouse_id" validate:"gte=0"`
	Note        string     `json:"note" validate:"max=500"`
	DueAt       *time.Time `json:"due_at"`
}

type checkinPayload struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	var payload checkoutPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	userID := payload.UserID
	if userID == 0 {
		userID = actor.UserID
	}
	checkout, err := h.service.Checkout(r.Context(), CheckoutInput{
		TenantID:    actor.TenantID,
		ToolID:      payload.ToolID,
		UserID:      userID,
		WarehouseID: payload.WarehouseID,
		Note:        payload.Note,
		DueAt:       payload.DueAt,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, checkout)
}

func (h *Handler) Checkin(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "checkout id must be numeric")
		return
	}
	var payload checkinPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}

	checkout, err := h.service.Checkin(r.Context(), actor.TenantID, id, actor.UserID, payload.Note)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkout)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "checkout id must be numeric")
		return
	}

	checkout, err := h.service.Get(r.Context(), actor.TenantID, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkout)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.ParsePage(r, 100, 500)
	filters := ListFilters{
		OpenOnly: r.URL.Query().Get("open") == "true",
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("tool_id"), 10, 64); err == nil {
		filters.ToolID = v
	}
	if v, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64); err == nil {
		filters.UserID = v
	}

	checkouts, err := h.service.List(r.Context(), actor.TenantID, filters)
	if err != nil {
		h.logger.Error("list checkouts failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": checkouts})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, httpx.ErrNotFound)
	case errors.Is(err, ErrAlreadyCheckedOut):
		httpx.Problem(w, http.StatusConflict, "Tool Unavailable", err.Error())
	case errors.Is(err, ErrAlreadyReturned):
		httpx.Problem(w, http.StatusConflict, "Already Returned", err.Error())
	default:
		h.logger.Error("tool checkout operation failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
