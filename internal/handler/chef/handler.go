package chef

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	"github.com/zhouzirui/recipe-chat/backend/pkg/utils"
)

// Handler serves the chef catalogue.
type Handler struct {
	chefs chef.Store
}

// New creates a chef handler.
func New(chefs chef.Store) *Handler {
	return &Handler{chefs: chefs}
}

// RegisterRoutes registers chef routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chefs", h.handleListChefs)
	r.Get("/chefs/{chefID}", h.handleGetChef)
}

// handleListChefs accepts ?cuisine= and ?dietary= (repeated or comma separated).
func (h *Handler) handleListChefs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := chef.Filter{Cuisine: strings.TrimSpace(query.Get("cuisine"))}
	for _, raw := range query["dietary"] {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				filter.Dietary = append(filter.Dietary, tag)
			}
		}
	}
	utils.RespondJSON(w, http.StatusOK, h.chefs.List(filter))
}

func (h *Handler) handleGetChef(w http.ResponseWriter, r *http.Request) {
	c, ok := h.chefs.FindByID(chi.URLParam(r, "chefID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "chef not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}
