package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// LoanHandler serves the borrow-record steps under /api/users/{uid} and the
// one-call composites under /api/loans.
type LoanHandler struct {
	loans  *service.LoanService
	authz  *auth.Authorizer
	logger *slog.Logger
}

func NewLoanHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *LoanHandler {
	return &LoanHandler{loans: svc.Loans, authz: authz, logger: logger}
}

// UserRoutes mounts the borrow-record routes on the /api/users router.
func (h *LoanHandler) UserRoutes(r chi.Router) {
	manage := h.authz.Require(auth.ObjLoan, auth.ActManage)

	r.Post("/{uid}/borrow-books-list", h.HandleRequestToBorrow)
	r.With(manage).Put("/{uid}/update-status", h.HandleUpdateStatus)
	r.With(manage).Post("/{uid}/accept-borrow-books-list", h.HandleMarkAccepted)
	r.With(manage).Delete("/{uid}/deletebookfromborrowlist", h.HandleRemoveRecord)
	r.With(manage).Put("/{uid}/addToHistory", h.HandleAddToHistory)
}

// Routes mounts the composite transitions under /api/loans.
func (h *LoanHandler) Routes(r chi.Router) {
	manage := h.authz.Require(auth.ObjLoan, auth.ActManage)

	r.With(manage).Post("/accept", h.HandleAcceptLoan)
	r.With(manage).Post("/return", h.HandleCompleteReturn)
}

type borrowRequest struct {
	BookID string `json:"bookId" validate:"required,max=64"`
}

type statusRequest struct {
	Title  string `json:"title"  validate:"required,max=300"`
	Status string `json:"status" validate:"required"`
}

type titleRequest struct {
	Title string `json:"title" validate:"required,max=300"`
}

type historyRequest struct {
	CopyID int64  `json:"copyID" validate:"required,min=1"`
	Title  string `json:"title"  validate:"required,max=300"`
}

type acceptLoanRequest struct {
	BookID string `json:"bookId" validate:"required,max=64"`
	CopyID int64  `json:"copyID" validate:"required,min=1"`
	UID    string `json:"uid"    validate:"required,max=128"`
}

// HandleRequestToBorrow is the same transition as joining a book's waiting
// list, addressed by user.
//
// HTTP: POST /api/users/{uid}/borrow-books-list
// REQUEST BODY: {"bookId": "cn3q..."}
func (h *LoanHandler) HandleRequestToBorrow(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.authz.CheckSelf(r, uid, auth.ObjLoan, auth.ActRequest); err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req borrowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rec, err := h.loans.RequestToBorrow(r.Context(), req.BookID, uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Borrow request recorded", envelope{"record": rec})
}

// HandleUpdateStatus accepts only {"status": "accepted"}; a record never
// moves back to pending.
func (h *LoanHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rec, err := h.loans.UpdateBorrowStatus(r.Context(), chi.URLParam(r, "uid"), req.Title, req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Borrow status updated", envelope{"record": rec})
}

func (h *LoanHandler) HandleMarkAccepted(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rec, err := h.loans.MarkAccepted(r.Context(), chi.URLParam(r, "uid"), req.Title)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Borrow request accepted", envelope{"record": rec})
}

// HandleRemoveRecord takes the title from the body or the ?title= parameter.
func (h *LoanHandler) HandleRemoveRecord(w http.ResponseWriter, r *http.Request) {
	req := titleRequest{Title: r.URL.Query().Get("title")}
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.loans.RemoveBorrowRecord(r.Context(), chi.URLParam(r, "uid"), req.Title); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Borrow record removed", nil)
}

func (h *LoanHandler) HandleAddToHistory(w http.ResponseWriter, r *http.Request) {
	var req historyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	entry, err := h.loans.RecordHistory(r.Context(), chi.URLParam(r, "uid"), req.CopyID, req.Title)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "History updated", envelope{"history": entry})
}

// HandleAcceptLoan assigns the copy, accepts the record and dequeues the
// member in one transaction.
//
// HTTP: POST /api/loans/accept
// REQUEST BODY: {"bookId": "cn3q...", "copyID": 7, "uid": "u1"}
func (h *LoanHandler) HandleAcceptLoan(w http.ResponseWriter, r *http.Request) {
	var req acceptLoanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	loan, err := h.loans.AcceptLoan(r.Context(), req.BookID, req.CopyID, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Loan accepted", envelope{"loan": loan})
}

// HandleCompleteReturn frees the copy and moves the holder's record to
// history in one transaction.
//
// HTTP: POST /api/loans/return
// REQUEST BODY: {"copyID": 7}
func (h *LoanHandler) HandleCompleteReturn(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	entry, err := h.loans.CompleteReturn(r.Context(), req.CopyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Copy returned", envelope{"history": entry})
}
