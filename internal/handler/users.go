package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// UserHandler serves member profiles.
type UserHandler struct {
	users  *service.UserService
	authz  *auth.Authorizer
	logger *slog.Logger
}

func NewUserHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: svc.Users, authz: authz, logger: logger}
}

// Routes mounts the handler under /api/users.
func (h *UserHandler) Routes(r chi.Router) {
	manage := h.authz.Require(auth.ObjUser, auth.ActManage)

	r.With(manage).Get("/", h.HandleList)
	r.Post("/signUp", h.HandleSignUp)
	r.Get("/{uid}", h.HandleGet)
	r.Put("/{uid}", h.HandleUpdate)
	r.With(manage).Put("/{uid}/manager", h.HandleSetManager)
}

type managerRequest struct {
	IsManager bool `json:"isManager"`
}

func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"users": h.users.ListUsers()})
}

// HandleSignUp creates the user document once the identity provider has
// issued a uid. A second sign-up for the same uid answers 409.
//
// HTTP: POST /api/users/signUp
// REQUEST BODY: {"uid": "u1", "email": "a@b.org", "firstName": "Ada", ...}
func (h *UserHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req service.SignUpInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, req.UID, auth.ObjProfile, auth.ActWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "User created", envelope{"user": user})
}

func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjProfile, auth.ActRead); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.GetUser(uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"user": user})
}

// HandleUpdate patches profile fields. Borrow records, history,
// notifications and the manager flag are not reachable from here.
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjProfile, auth.ActWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req service.ProfilePatch
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), uid, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Profile updated", envelope{"user": user})
}

func (h *UserHandler) HandleSetManager(w http.ResponseWriter, r *http.Request) {
	var req managerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.users.SetManager(r.Context(), chi.URLParam(r, "uid"), req.IsManager)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Role updated", envelope{"user": user})
}
