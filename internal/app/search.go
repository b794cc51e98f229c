package app

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/index"
	"github.com/wastetrack/wastetrack/internal/platform/httpx"
	"github.com/wastetrack/wastetrack/internal/shared"
)

// Memberships answers "may this user act for this SIRET".
type Memberships interface {
	ActsFor(ctx context.Context, userID, siret string) (bool, error)
}

// SearchHandler serves the dashboard search over the projection index. A
// caller may only query through a SIRET they are a member of.
type SearchHandler struct {
	store   index.Store
	members Memberships
}

// NewSearchHandler constructs a SearchHandler.
func NewSearchHandler(store index.Store, members Memberships) *SearchHandler {
	return &SearchHandler{store: store, members: members}
}

// MountRoutes attaches the search routes.
func (h *SearchHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.search)
}

func (h *SearchHandler) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	siret := params.Get("siret")
	if siret == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "siret parameter is required")
		return
	}
	ok, err := h.members.ActsFor(r.Context(), httpx.UserID(r), siret)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if !ok {
		httpx.RespondError(w, shared.Forbiddenf("user is not a member of %s", siret))
		return
	}

	q := index.Query{
		Siret:  siret,
		Tab:    bsd.Tab(params.Get("tab")),
		Text:   params.Get("q"),
		Cursor: params.Get("cursor"),
	}
	if raw := params.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			q.Types = append(q.Types, bsd.Type(strings.TrimSpace(t)))
		}
	}
	if raw := params.Get("pageSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.PageSize = n
		}
	}

	page, err := h.store.Search(r.Context(), q)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}
