package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/perflab/labdash/pkg/api/store"
	"github.com/perflab/labdash/pkg/results"
)

// --- User management ---

// handleListUsers returns all users with their group memberships.
func (s *server) handleListUsers(
	w http.ResponseWriter, r *http.Request,
) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]userResponse, 0, len(users))

	for i := range users {
		groups, err := s.store.GroupsForUser(r.Context(), users[i].ID)
		if err != nil {
			s.log.WithError(err).Error("Failed to load user groups")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		resp = append(resp, toUserResponse(&users[i], groups))
	}

	writeJSON(w, http.StatusOK, resp)
}

type createUserRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Staff    bool     `json:"staff"`
	Groups   []string `json:"groups,omitempty"`
}

// handleCreateUser creates a new admin-sourced user.
func (s *server) handleCreateUser(
	w http.ResponseWriter, r *http.Request,
) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(req.Password), bcrypt.DefaultCost,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user := &store.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Staff:        req.Staff,
		Source:       store.SourceAdmin,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"username already exists"})

		return
	}

	for _, group := range req.Groups {
		if err := s.store.AddGroupMember(r.Context(), user.ID, group); err != nil {
			s.log.WithError(err).
				WithField("group", group).
				Error("Failed to add group member")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user, req.Groups))
}

type updateUserRequest struct {
	Password *string `json:"password,omitempty"`
	Staff    *bool   `json:"staff,omitempty"`
}

// handleUpdateUser updates a user's password and/or staff flag.
func (s *server) handleUpdateUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	}

	// Prevent dropping your own staff flag.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == user.ID && req.Staff != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot change your own staff flag"})

		return
	}

	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(*req.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			s.log.WithError(err).Error("Failed to hash password")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		user.PasswordHash = string(hash)
	}

	if req.Staff != nil {
		user.Staff = *req.Staff
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	groups, err := s.store.GroupsForUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Warn("Failed to load user groups")
	}

	writeJSON(w, http.StatusOK, toUserResponse(user, groups))
}

// handleDeleteUser removes a user by ID.
func (s *server) handleDeleteUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	// Prevent self-deletion.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == id {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete yourself"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Session management ---

type sessionResponse struct {
	ID        uint   `json:"id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Source    string `json:"source"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// handleListSessions returns all sessions with resolved usernames.
func (s *server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	type userInfo struct {
		Username string
		Source   string
	}

	userMap := make(map[uint]userInfo, len(users))
	for i := range users {
		userMap[users[i].ID] = userInfo{
			Username: users[i].Username,
			Source:   users[i].Source,
		}
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		info := userMap[sessions[i].UserID]
		resp = append(resp, sessionResponse{
			ID:        sessions[i].ID,
			UserID:    sessions[i].UserID,
			Username:  info.Username,
			Source:    info.Source,
			ExpiresAt: sessions[i].ExpiresAt.Format("2006-01-02T15:04:05Z"),
			CreatedAt: sessions[i].CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteSessionByID revokes a session by ID.
func (s *server) handleDeleteSessionByID(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteSessionByID(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- API key management ---

// handleListAllAPIKeys returns every user's API keys.
func (s *server) handleListAllAPIKeys(
	w http.ResponseWriter, r *http.Request,
) {
	keys, err := s.store.ListAPIKeys(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list API keys")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		resp = append(resp, toAPIKeyResponse(&keys[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteAPIKey revokes any user's API key by ID.
func (s *server) handleDeleteAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteAPIKey(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Group membership management ---

type membershipRequest struct {
	UserID    uint   `json:"user_id"`
	GroupName string `json:"group_name"`
}

// handleListMemberships returns all group memberships.
func (s *server) handleListMemberships(
	w http.ResponseWriter, r *http.Request,
) {
	memberships, err := s.store.ListGroupMemberships(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list group memberships")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, memberships)
}

// handleAddMembership places a user in a group.
func (s *server) handleAddMembership(
	w http.ResponseWriter, r *http.Request,
) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.UserID == 0 || req.GroupName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"user_id and group_name are required"})

		return
	}

	if _, err := s.store.GetUserByID(r.Context(), req.UserID); err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	}

	if err := s.store.AddGroupMember(
		r.Context(), req.UserID, req.GroupName,
	); err != nil {
		s.log.WithError(err).Error("Failed to add group member")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// handleRemoveMembership removes a user from a group.
func (s *server) handleRemoveMembership(
	w http.ResponseWriter, r *http.Request,
) {
	var req membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.UserID == 0 || req.GroupName == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"user_id and group_name are required"})

		return
	}

	if err := s.store.RemoveGroupMember(
		r.Context(), req.UserID, req.GroupName,
	); err != nil {
		s.log.WithError(err).Error("Failed to remove group member")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Build pipeline ingestion ---

// handleCreateBranch registers a tracked repository branch.
func (s *server) handleCreateBranch(
	w http.ResponseWriter, r *http.Request,
) {
	var b results.Branch
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if b.Name == "" || b.RepositoryURL == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name and repository_url are required"})

		return
	}

	b.ID = 0

	if err := s.results.CreateBranch(r.Context(), &b); err != nil {
		s.storeError(w, err, "branch")

		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// handleCreatePatchSet registers a new patch series.
func (s *server) handleCreatePatchSet(
	w http.ResponseWriter, r *http.Request,
) {
	var ps results.PatchSet
	if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	ps.ID = 0

	if ps.UUID == "" {
		ps.UUID = uuid.NewString()
	}

	if err := s.results.CreatePatchSet(r.Context(), &ps); err != nil {
		s.storeError(w, err, "patch set")

		return
	}

	writeJSON(w, http.StatusCreated, ps)
}

// handleUpdatePatchSet updates a patch set, e.g. to record an apply or
// build failure reported by the pipeline.
func (s *server) handleUpdatePatchSet(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	ps, err := s.results.GetPatchSet(r.Context(), id)
	if err != nil {
		s.storeError(w, err, "patch set")

		return
	}

	if err := json.NewDecoder(r.Body).Decode(ps); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	ps.ID = id

	if err := s.results.UpdatePatchSet(r.Context(), ps); err != nil {
		s.storeError(w, err, "patch set")

		return
	}

	writeJSON(w, http.StatusOK, ps)
}

// handleCreateTarball records a build artifact produced by the pipeline.
func (s *server) handleCreateTarball(
	w http.ResponseWriter, r *http.Request,
) {
	var tb results.Tarball
	if err := json.NewDecoder(r.Body).Decode(&tb); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if tb.TarballURL == "" || tb.CommitID == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"tarball_url and commit_id are required"})

		return
	}

	tb.ID = 0

	if tb.Date == nil {
		now := time.Now().UTC()
		tb.Date = &now
	}

	if err := s.results.CreateTarball(r.Context(), &tb); err != nil {
		s.storeError(w, err, "tarball")

		return
	}

	writeJSON(w, http.StatusCreated, tb)
}

// handleCreateTestCase registers a test case.
func (s *server) handleCreateTestCase(
	w http.ResponseWriter, r *http.Request,
) {
	var tc results.TestCase
	if err := json.NewDecoder(r.Body).Decode(&tc); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if tc.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	tc.ID = 0

	if err := s.results.CreateTestCase(r.Context(), &tc); err != nil {
		s.storeError(w, err, "test case")

		return
	}

	writeJSON(w, http.StatusCreated, tc)
}

// --- Environment visibility ---

// handleSetEnvironmentPublic grants public view over an environment
// lineage and everything measured on it.
func (s *server) handleSetEnvironmentPublic(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.results.SetPublic(r.Context(), id); err != nil {
		s.storeError(w, err, "environment")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSetEnvironmentPrivate revokes public view over an environment
// lineage and everything measured on it.
func (s *server) handleSetEnvironmentPrivate(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.results.SetPrivate(r.Context(), id); err != nil {
		s.storeError(w, err, "environment")

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseIDParam extracts and validates the {id} URL parameter.
func parseIDParam(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}

	return uint(id), nil
}
