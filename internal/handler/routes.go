package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/service"
)

// Deps is everything the API handlers need. Authz may be nil (every request
// allowed), which is how the server runs without a JWT secret.
type Deps struct {
	Services *service.Services
	Mirror   *mirror.Mirror
	Authz    *auth.Authorizer
	Logger   *slog.Logger
}

// MountAPI registers every /api route on r. Authentication middleware, when
// used, must already be installed on r.
//
//	/api/users      users, borrow records, notifications, email
//	/api/books      catalog, copies of a book, waiting list, feedback
//	/api/copies     copy listing, assign, return
//	/api/loans      accept/return composites
//	/api/requests   free-text requests
//	/api/...        reports and admin
func MountAPI(r chi.Router, d Deps) {
	users := NewUserHandler(d.Services, d.Authz, d.Logger)
	loans := NewLoanHandler(d.Services, d.Authz, d.Logger)
	notifications := NewNotificationHandler(d.Services, d.Authz, d.Logger)
	books := NewBookHandler(d.Services, d.Authz, d.Logger)
	copies := NewCopyHandler(d.Services, d.Authz, d.Logger)
	requests := NewRequestHandler(d.Services, d.Authz, d.Logger)
	reports := NewReportHandler(d.Services, d.Mirror, d.Authz, d.Logger)

	r.Route("/users", func(r chi.Router) {
		users.Routes(r)
		loans.UserRoutes(r)
		notifications.Routes(r)
	})
	r.Route("/books", books.Routes)
	r.Route("/copies", copies.Routes)
	r.Route("/loans", loans.Routes)
	r.Route("/requests", requests.Routes)
	reports.Routes(r)
}
