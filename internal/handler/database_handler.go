package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/whaleray/control-plane/internal/middleware"
	"github.com/whaleray/control-plane/internal/pkg/response"
	"github.com/whaleray/control-plane/internal/service"
)

// DatabaseHandler handles the per-user database lifecycle.
type DatabaseHandler struct {
	databases service.DatabaseService
}

// NewDatabaseHandler creates a new database handler.
func NewDatabaseHandler(databases service.DatabaseService) *DatabaseHandler {
	return &DatabaseHandler{databases: databases}
}

// Routes returns a chi router with database routes.
func (h *DatabaseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Get)
	r.Post("/createdb", h.Create)
	r.Delete("/", h.Delete)
	r.Post("/reset-password", h.ResetPassword)
	return r
}

// Get handles GET /db
func (h *DatabaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	db, err := h.databases.Get(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, db)
}

// Create handles POST /db/createdb. The plaintext password appears in
// this response and nowhere else.
func (h *DatabaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	result, err := h.databases.Create(r.Context(), userID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, result)
}

// Delete handles DELETE /db
func (h *DatabaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	if err := h.databases.Delete(r.Context(), userID); err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, map[string]string{"message": "Database deleted"})
}

// ResetPassword handles POST /db/reset-password
func (h *DatabaseHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		response.Unauthorized(w)
		return
	}

	if err := h.databases.ResetPassword(r.Context(), userID); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}
