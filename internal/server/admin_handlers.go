package server

import (
	"net/http"

	jsonwriter "github.com/drivemind-app/drivemind/internal/json"
	"github.com/drivemind-app/drivemind/internal/log"
	"github.com/drivemind-app/drivemind/internal/storage"
)

// AdminHandlers serves the operator endpoints
type AdminHandlers struct {
	store storage.Store
}

func NewAdminHandlers(store storage.Store) *AdminHandlers {
	return &AdminHandlers{store: store}
}

type usersResponse struct {
	Users []storage.UserRecord `json:"users"`
	Count int                  `json:"count"`
}

// UsersHandler lists users who have connected their Drive
func (h *AdminHandlers) UsersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonwriter.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET")
		return
	}

	users, err := h.store.GetAllUsers(r.Context())
	if err != nil {
		log.LogErrorWithFields("admin", "Listing users failed", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to list users")
		return
	}
	if users == nil {
		users = []storage.UserRecord{}
	}

	_ = jsonwriter.Write(w, usersResponse{Users: users, Count: len(users)})
}
