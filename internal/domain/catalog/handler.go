package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/yogaspace/yogaspace-api/internal/pkg/response"
)

// Handler serves the public catalog.
type Handler struct {
	catalog *Catalog
}

func NewHandler(c *Catalog) *Handler {
	return &Handler{catalog: c}
}

// Routes returns catalog router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List returns packages, tiers and custom credit limits
// GET /api/v1/catalog
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	custom := h.catalog.Custom
	var customOut *CustomCredits
	if custom.Enabled {
		customOut = &custom
	}

	response.OK(w, map[string]interface{}{
		"currency":      h.catalog.Currency,
		"packages":      h.catalog.Packages,
		"tiers":         h.catalog.Tiers,
		"customCredits": customOut,
	})
}
