package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/auth"
	"github.com/queuesync/queuesync/internal/models"
	"github.com/queuesync/queuesync/internal/store"
)

type userPayload struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Role     string `json:"role"`
}

func validRole(role string) bool {
	return role == models.RoleAdmin || role == models.RoleUser
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve users")
		return
	}
	RespondWithJSON(w, http.StatusOK, users)
}

func (s *Server) handleAdminCreateUser(w http.ResponseWriter, r *http.Request) {
	var payload userPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || payload.Password == "" || !validRole(payload.Role) {
		RespondWithError(w, http.StatusBadRequest, "Username, password, and a valid role are required")
		return
	}

	passwordHash, err := auth.HashPassword(payload.Password)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user, err := s.store.CreateUser(payload.Username, passwordHash, payload.Role)
	if err != nil {
		// Almost always the unique constraint on username.
		RespondWithError(w, http.StatusConflict, "Username already exists")
		return
	}
	log.Info().Str("username", user.Username).Str("role", user.Role).Msg("user created")
	RespondWithJSON(w, http.StatusCreated, user)
}

func (s *Server) handleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "userID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	var payload userPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || !validRole(payload.Role) {
		RespondWithError(w, http.StatusBadRequest, "Username and a valid role are required")
		return
	}
	if current := getUserFromContext(r); current.ID == userID && payload.Role != models.RoleAdmin {
		RespondWithError(w, http.StatusBadRequest, "Cannot remove your own admin role")
		return
	}

	if err := s.store.UpdateUser(userID, payload.Username, payload.Role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		RespondWithError(w, http.StatusConflict, "Username already exists")
		return
	}

	if payload.Password != "" {
		passwordHash, err := auth.HashPassword(payload.Password)
		if err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to hash password")
			return
		}
		if err := s.store.UpdateUserPassword(userID, passwordHash); err != nil {
			RespondWithError(w, http.StatusInternalServerError, "Failed to update password")
			return
		}
	}

	user, err := s.store.GetUserByID(userID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	RespondWithJSON(w, http.StatusOK, user)
}

// handleAdminDeleteUser removes the user's jobs through the job manager
// first so subscribers see job_removed events before the rows cascade away.
func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := idParam(r, "userID")
	if !ok {
		RespondWithError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	if current := getUserFromContext(r); current.ID == userID {
		RespondWithError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}
	if _, err := s.store.GetUserByID(userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		RespondWithError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}

	ids, err := s.store.JobIDsForUser(userID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to list user jobs")
		return
	}
	for _, id := range ids {
		if err := s.jobs.Remove(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			RespondWithError(w, http.StatusInternalServerError, "Failed to remove user jobs")
			return
		}
	}

	if err := s.store.DeleteUser(userID); err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	log.Info().Int64("user_id", userID).Int("jobs_removed", len(ids)).Msg("user deleted")
	w.WriteHeader(http.StatusNoContent)
}
