package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// RequestHandler serves free-text member requests.
type RequestHandler struct {
	requests *service.RequestService
	authz    *auth.Authorizer
	logger   *slog.Logger
}

func NewRequestHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *RequestHandler {
	return &RequestHandler{requests: svc.Requests, authz: authz, logger: logger}
}

// Routes mounts the handler under /api/requests.
func (h *RequestHandler) Routes(r chi.Router) {
	manage := h.authz.Require(auth.ObjRequest, auth.ActManage)

	r.Post("/", h.HandleCreate)
	r.With(manage).Get("/", h.HandleList)
	r.With(manage).Delete("/{id}", h.HandleDelete)
}

type createRequest struct {
	UID         string `json:"uid"         validate:"max=128"`
	RequestText string `json:"requestText" validate:"required,max=2000"`
}

func (h *RequestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, err := actingUID(r, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, uid, auth.ObjRequest, auth.ActCreate); err != nil {
		writeError(w, h.logger, err)
		return
	}

	created, err := h.requests.CreateRequest(r.Context(), uid, req.RequestText)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Request submitted", envelope{"request": created})
}

func (h *RequestHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"requests": h.requests.ListRequests()})
}

func (h *RequestHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.requests.DeleteRequest(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Request deleted", nil)
}
