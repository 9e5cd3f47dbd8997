package alerts

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fieldworks-erp/fieldworks-erp/internal/platform/httpx"
	"github.com/fieldworks-erp/fieldworks-erp/internal/shared"
)

// Handler exposes the alert inbox.
type Handler struct {
	logger *slog.Logger
	repo   Repository
}

func NewHandler(logger *slog.Logger, repo Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{id}/read", h.MarkRead)
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	page := shared.ParsePage(r, 100, 500)
	filters := ListFilters{
		Kind:        Kind(r.URL.Query().Get("kind")),
		UnreadOnly:  r.URL.Query().Get("unread") == "true",
		RecipientID: &actor.UserID,
		Limit:       page.Limit,
		Offset:      page.Offset,
	}

	items, err := h.repo.List(r.Context(), actor.TenantID, filters)
	if err != nil {
		h.logger.Error("list alerts failed", "error", err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "alert id must be numeric")
		return
	}

	err = h.repo.MarkRead(r.Context(), actor.TenantID, id)
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	if err != nil {
		h.logger.Error("mark alert read failed", "error", err, "id", id)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"read": true})
}
