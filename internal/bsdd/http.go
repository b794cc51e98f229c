package bsdd

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wastetrack/wastetrack/internal/platform/httpx"
)

// Handler exposes the BSDD operations over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// MountRoutes attaches the BSDD routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.delete)

	r.Post("/{id}/seal", h.seal)
	r.Post("/{id}/sign-emission", h.signEmission)
	r.Post("/{id}/mark-sent", h.markSent)
	r.Post("/{id}/sign-transport", h.signTransport)
	r.Post("/{id}/mark-received", h.markReceived)
	r.Post("/{id}/mark-accepted", h.markAccepted)
	r.Post("/{id}/mark-processed", h.markProcessed)
	r.Post("/{id}/mark-temp-stored", h.markTempStored)
	r.Post("/{id}/mark-resealed", h.markResealed)
	r.Post("/{id}/sign-temp-storer", h.signTempStorer)

	r.Post("/{id}/segments", h.prepareSegment)
	r.Post("/{id}/segments/{segmentId}/ready", h.segmentReady)
	r.Post("/{id}/segments/{segmentId}/take-over", h.takeOverSegment)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateFormInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := h.svc.Create(r.Context(), httpx.UserID(r), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, form)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.Get(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var input CreateFormInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := h.svc.Update(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), httpx.UserID(r), chi.URLParam(r, "id")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) seal(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.MarkAsSealed(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) signEmission(w http.ResponseWriter, r *http.Request) {
	h.signature(w, r, h.svc.SignEmission)
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	h.signature(w, r, h.svc.MarkAsSent)
}

func (h *Handler) signTransport(w http.ResponseWriter, r *http.Request) {
	h.signature(w, r, h.svc.SignTransport)
}

func (h *Handler) signTempStorer(w http.ResponseWriter, r *http.Request) {
	h.signature(w, r, h.svc.SignedByTempStorer)
}

func (h *Handler) signature(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, SignatureInput) (Form, error)) {
	var sig SignatureInput
	if err := httpx.DecodeJSON(r, &sig); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := op(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), sig)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	h.reception(w, r, h.svc.MarkAsReceived)
}

func (h *Handler) markAccepted(w http.ResponseWriter, r *http.Request) {
	h.reception(w, r, h.svc.MarkAsAccepted)
}

func (h *Handler) markTempStored(w http.ResponseWriter, r *http.Request) {
	h.reception(w, r, h.svc.MarkAsTempStored)
}

func (h *Handler) reception(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string, ReceptionInput) (Form, error)) {
	var input ReceptionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := op(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) markProcessed(w http.ResponseWriter, r *http.Request) {
	var input ProcessingInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := h.svc.MarkAsProcessed(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) markResealed(w http.ResponseWriter, r *http.Request) {
	var input ResealInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	form, err := h.svc.MarkAsResealed(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, form)
}

func (h *Handler) prepareSegment(w http.ResponseWriter, r *http.Request) {
	var input SegmentInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	segment, err := h.svc.PrepareSegment(r.Context(), httpx.UserID(r), chi.URLParam(r, "id"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, segment)
}

func (h *Handler) segmentReady(w http.ResponseWriter, r *http.Request) {
	segment, err := h.svc.MarkSegmentAsReadyToTakeOver(r.Context(), httpx.UserID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "segmentId"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, segment)
}

func (h *Handler) takeOverSegment(w http.ResponseWriter, r *http.Request) {
	var input TakeOverInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	segment, err := h.svc.TakeOverSegment(r.Context(), httpx.UserID(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "segmentId"), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, segment)
}
