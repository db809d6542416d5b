package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/apperror"
	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/service"
)

// ReportHandler serves the cross-collection reports and the admin tools.
type ReportHandler struct {
	reports   *service.ReportService
	integrity *service.IntegrityService
	mirror    *mirror.Mirror
	authz     *auth.Authorizer
	logger    *slog.Logger
}

func NewReportHandler(svc *service.Services, m *mirror.Mirror, authz *auth.Authorizer, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reports:   svc.Reports,
		integrity: svc.Integrity,
		mirror:    m,
		authz:     authz,
		logger:    logger,
	}
}

// Routes mounts the reports and admin routes on the /api router.
func (h *ReportHandler) Routes(r chi.Router) {
	read := h.authz.Require(auth.ObjReport, auth.ActRead)
	admin := h.authz.Require(auth.ObjAdmin, auth.ActManage)

	r.With(read).Get("/waiting-list/details", h.HandleWaitingListDetails)
	r.With(read).Get("/borrowed-books-details", h.HandleBorrowedBooksDetails)
	r.With(admin).Get("/admin/integrity", h.HandleIntegrity)
	r.With(admin).Post("/admin/mirror/refresh", h.HandleRefreshMirror)
}

func (h *ReportHandler) HandleWaitingListDetails(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"books": h.reports.WaitingListDetails()})
}

func (h *ReportHandler) HandleBorrowedBooksDetails(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "", envelope{"copies": h.reports.BorrowedBooksDetails()})
}

// HandleIntegrity scans the store and lists invariant violations. A report
// with violations is still a 200; "ok" tells the two apart.
func (h *ReportHandler) HandleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Verify(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOK(w, http.StatusOK, "", envelope{"ok": report.OK(), "report": report})
}

func (h *ReportHandler) HandleRefreshMirror(w http.ResponseWriter, r *http.Request) {
	if err := h.mirror.Refresh(r.Context()); err != nil {
		writeError(w, h.logger, apperror.Internal("refreshing mirror", err))
		return
	}
	writeOK(w, http.StatusOK, "Mirror refreshed", envelope{
		"users":    h.mirror.Users.Len(),
		"books":    h.mirror.Books.Len(),
		"copies":   h.mirror.Copies.Len(),
		"requests": h.mirror.Requests.Len(),
	})
}
