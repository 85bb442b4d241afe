package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/whaleray/control-plane/internal/middleware"
	"github.com/whaleray/control-plane/internal/pkg/response"
	"github.com/whaleray/control-plane/internal/service"
)

// ServiceHandler handles service listing and detail views.
type ServiceHandler struct {
	catalog service.ServiceCatalog
}

// NewServiceHandler creates a new service handler.
func NewServiceHandler(catalog service.ServiceCatalog) *ServiceHandler {
	return &ServiceHandler{catalog: catalog}
}

// Routes returns a chi router with service routes.
func (h *ServiceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}

// List handles GET /services
func (h *ServiceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	services, err := h.catalog.List(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]any{"services": services})
}

// Get handles GET /services/{id}
func (h *ServiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	detail, err := h.catalog.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, detail)
}
