package revision

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wastetrack/wastetrack/internal/platform/httpx"
)

// Handler exposes the revision operations over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// MountRoutes attaches the revision routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/accept", h.accept)
	r.Post("/{id}/refuse", h.refuse)
	r.Post("/{id}/cancel", h.cancel)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rev, err := h.svc.Create(r.Context(), httpx.UserID(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rev)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rev)
}

type voteInput struct {
	ApproverSiret string `json:"approverSiret"`
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, h.svc.Accept)
}

func (h *Handler) refuse(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, h.svc.Refuse)
}

func (h *Handler) vote(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, revisionID, approverSiret string) (Revision, error)) {
	var input voteInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rev, err := op(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input.ApproverSiret)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rev)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	rev, err := h.svc.Cancel(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rev)
}
