package bsff

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wastetrack/wastetrack/internal/platform/httpx"
)

// Handler exposes the BSFF operations over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// MountRoutes attaches the BSFF routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/publish", h.publish)
	r.Post("/{id}/sign", h.sign)
	r.Post("/{id}/packagings/{packagingId}/acceptation", h.packagingAcceptation)
	r.Post("/{id}/packagings/{packagingId}/operation", h.packagingOperation)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	draft := r.URL.Query().Get("draft") == "true"
	b, err := h.svc.Create(r.Context(), httpx.UserID(r), input, draft)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, b)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), httpx.UserID(r), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Publish(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	var input SignInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	b, err := h.svc.Sign(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) packagingAcceptation(w http.ResponseWriter, r *http.Request) {
	var input AcceptationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	b, err := h.svc.UpdatePackagingAcceptation(r.Context(), httpx.UserID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "packagingId"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) packagingOperation(w http.ResponseWriter, r *http.Request) {
	var input OperationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	b, err := h.svc.UpdatePackagingOperation(r.Context(), httpx.UserID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "packagingId"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}
