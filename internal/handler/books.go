package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/service"
)

// BookHandler serves the catalog, copy management on a book, the waiting
// list and feedback.
type BookHandler struct {
	books    *service.BookService
	catalog  *service.CatalogService
	loans    *service.LoanService
	feedback *service.FeedbackService
	authz    *auth.Authorizer
	logger   *slog.Logger
}

func NewBookHandler(svc *service.Services, authz *auth.Authorizer, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:    svc.Books,
		catalog:  svc.Catalog,
		loans:    svc.Loans,
		feedback: svc.Feedback,
		authz:    authz,
		logger:   logger,
	}
}

// Routes mounts the handler under /api/books.
func (h *BookHandler) Routes(r chi.Router) {
	read := h.authz.Require(auth.ObjCatalog, auth.ActRead)
	write := h.authz.Require(auth.ObjCatalog, auth.ActWrite)

	r.With(read).Get("/getAllBooksData", h.HandleList)
	r.With(read).Get("/categories", h.HandleCategories)
	r.With(read).Get("/authors", h.HandleAuthors)
	r.With(read).Get("/recommendations", h.HandleRecommendations)
	r.With(write).Post("/add", h.HandleAdd)
	r.With(write).Put("/update/{id}", h.HandleUpdate)

	r.With(read).Get("/{id}", h.HandleGet)
	r.With(write).Delete("/{id}", h.HandleDelete)
	r.With(read).Get("/{id}/available-copies", h.HandleAvailableCopies)
	r.With(write).Post("/{id}/addCopy", h.HandleAddCopies)
	r.With(write).Delete("/{id}/removeCopy/{copyID}", h.HandleRemoveCopy)

	r.Post("/{id}/waiting-list", h.HandleJoinWaitingList)
	r.Delete("/{id}/waiting-list", h.HandleLeaveWaitingList)
	r.Post("/{id}/rate", h.HandleRate)
	r.Post("/{id}/review", h.HandleReview)
}

type bookRequest struct {
	Title       string `json:"title"       validate:"required,max=300"`
	Author      string `json:"author"      validate:"required,max=200"`
	Category    string `json:"category"    validate:"max=100"`
	Language    string `json:"language"    validate:"max=50"`
	Description string `json:"description" validate:"max=5000"`
	ImageURL    string `json:"imageUrl"    validate:"omitempty,url"`
	Copies      int    `json:"copies"      validate:"min=0,max=500"`
}

type bookPatchRequest struct {
	Title       *string `json:"title"       validate:"omitempty,max=300"`
	Author      *string `json:"author"      validate:"omitempty,max=200"`
	Category    *string `json:"category"    validate:"omitempty,max=100"`
	Language    *string `json:"language"    validate:"omitempty,max=50"`
	Description *string `json:"description" validate:"omitempty,max=5000"`
	ImageURL    *string `json:"imageUrl"    validate:"omitempty,url"`
}

type copyCountRequest struct {
	Count int `json:"count" validate:"min=1,max=500"`
}

type waitingRequest struct {
	UID string `json:"uid" validate:"max=128"`
}

type rateRequest struct {
	UID   string `json:"uid"   validate:"max=128"`
	Score int    `json:"score" validate:"min=1,max=5"`
}

type reviewRequest struct {
	UID  string `json:"uid"  validate:"max=128"`
	Text string `json:"text" validate:"required,max=2000"`
}

// HandleList returns books matching the optional query, category and author
// parameters.
//
// HTTP: GET /api/books/getAllBooksData?query=sower&category=Fiction
func (h *BookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books := h.catalog.ListBooks(service.BookFilter{
		Query:    q.Get("query"),
		Category: q.Get("category"),
		Author:   q.Get("author"),
	})
	writeOK(w, http.StatusOK, "", envelope{"books": books})
}

func (h *BookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	book, err := h.catalog.GetBook(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"book": book})
}

func (h *BookHandler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"categories": h.catalog.Categories()})
}

func (h *BookHandler) HandleAuthors(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"authors": h.catalog.Authors()})
}

// HandleRecommendations never fails: an unreachable recommendation source
// yields an empty list.
func (h *BookHandler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"books": h.catalog.Recommendations(r.Context())})
}

func (h *BookHandler) HandleAvailableCopies(w http.ResponseWriter, r *http.Request) {
	copies, err := h.catalog.AvailableCopies(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"copies": copies})
}

// HandleAdd creates a book with its initial copies.
//
// HTTP: POST /api/books/add
// REQUEST BODY: {"title": "Kindred", "author": "Octavia E. Butler", "copies": 3}
func (h *BookHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, copies, err := h.books.AddBook(r.Context(), service.BookInput{
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		Language:    req.Language,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	}, req.Copies)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Book added", envelope{"book": book, "copies": copies})
}

func (h *BookHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req bookPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, err := h.books.UpdateBook(r.Context(), chi.URLParam(r, "id"), service.BookPatch{
		Title:       req.Title,
		Author:      req.Author,
		Category:    req.Category,
		Language:    req.Language,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Book updated", envelope{"book": book})
}

func (h *BookHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.books.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Book deleted", nil)
}

// HandleAddCopies appends count new copies with freshly allocated ids.
//
// HTTP: POST /api/books/{id}/addCopy
// REQUEST BODY: {"count": 2}
func (h *BookHandler) HandleAddCopies(w http.ResponseWriter, r *http.Request) {
	var req copyCountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, copies, err := h.books.AddCopies(r.Context(), chi.URLParam(r, "id"), req.Count)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Copies added", envelope{"book": book, "copies": copies})
}

func (h *BookHandler) HandleRemoveCopy(w http.ResponseWriter, r *http.Request) {
	copyID, err := pathCopyID(r, "copyID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, err := h.books.RemoveCopy(r.Context(), chi.URLParam(r, "id"), copyID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Copy removed", envelope{"book": book})
}

// HandleJoinWaitingList queues a member for the book and opens a pending
// borrow record. Members may only queue themselves.
//
// HTTP: POST /api/books/{id}/waiting-list
// REQUEST BODY: {"uid": "u1"} (uid defaults to the caller)
func (h *BookHandler) HandleJoinWaitingList(w http.ResponseWriter, r *http.Request) {
	var req waitingRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, err := actingUID(r, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, uid, auth.ObjLoan, auth.ActRequest); err != nil {
		writeError(w, h.logger, err)
		return
	}

	rec, err := h.loans.RequestToBorrow(r.Context(), chi.URLParam(r, "id"), uid)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Added to waiting list", envelope{"record": rec})
}

// HandleLeaveWaitingList removes the member from the queue together with the
// pending record.
//
// HTTP: DELETE /api/books/{id}/waiting-list?uid=u1
func (h *BookHandler) HandleLeaveWaitingList(w http.ResponseWriter, r *http.Request) {
	req := waitingRequest{UID: r.URL.Query().Get("uid")}
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, err := actingUID(r, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, uid, auth.ObjLoan, auth.ActRequest); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.loans.CancelWaiting(r.Context(), chi.URLParam(r, "id"), uid); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Removed from waiting list", nil)
}

func (h *BookHandler) HandleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, err := actingUID(r, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, uid, auth.ObjFeedback, auth.ActWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, err := h.feedback.RateBook(r.Context(), chi.URLParam(r, "id"), uid, req.Score)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "Rating saved", envelope{"averageRating": book.AverageRating, "ratings": len(book.Ratings)})
}

func (h *BookHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	uid, err := actingUID(r, req.UID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.authz.CheckSelf(r, uid, auth.ObjFeedback, auth.ActWrite); err != nil {
		writeError(w, h.logger, err)
		return
	}

	review, err := h.feedback.ReviewBook(r.Context(), chi.URLParam(r, "id"), uid, req.Text)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusCreated, "Review added", envelope{"review": review})
}
