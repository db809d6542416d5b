package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// CopyHandler serves the copy collection and the granular assign/return
// steps.
type CopyHandler struct {
	catalog *service.CatalogService
	loans   *service.LoanService
	authz   *auth.Authorizer
	logger  *slog.Logger
}

func NewCopyHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *CopyHandler {
	return &CopyHandler{
		catalog: svc.Catalog,
		loans:   svc.Loans,
		authz:   authz,
		logger:  logger,
	}
}

// Routes mounts the handler under /api/copies.
func (h *CopyHandler) Routes(r chi.Router) {
	read := h.authz.Require(auth.ObjCatalog, auth.ActRead)
	manage := h.authz.Require(auth.ObjLoan, auth.ActManage)

	r.With(read).Get("/", h.HandleList)
	r.With(read).Get("/by-title", h.HandleByTitle)
	r.With(manage).Put("/updateBorrowedTo", h.HandleAssign)
	r.With(manage).Put("/returnCopy", h.HandleReturn)
}

type assignRequest struct {
	CopyID int64  `json:"copyID" validate:"required,min=1"`
	UID    string `json:"uid"    validate:"required,max=128"`
	Title  string `json:"title"  validate:"max=300"`
}

type copyRequest struct {
	CopyID int64 `json:"copyID" validate:"required,min=1"`
}

func (h *CopyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"copies": h.catalog.ListCopies()})
}

// HandleByTitle returns the copies whose title matches exactly.
//
// HTTP: GET /api/copies/by-title?title=Kindred
func (h *CopyHandler) HandleByTitle(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, h.logger, apperror.ValidationFailed("title", "title is required"))
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"copies": h.catalog.CopiesByTitle(title)})
}

// HandleAssign gives an available copy to a user. A borrowed copy answers 409.
//
// HTTP: PUT /api/copies/updateBorrowedTo
// REQUEST BODY: {"copyID": 7, "uid": "u1", "title": "Kindred"}
func (h *CopyHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.loans.AssignCopyToUser(r.Context(), req.CopyID, req.UID, req.Title)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Copy assigned", envelope{"copy": c})
}

func (h *CopyHandler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.loans.ReturnCopy(r.Context(), req.CopyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Copy returned", envelope{"copy": c})
}
