package handler_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/auth"
	"github.com/sakif/community-library/internal/handler"
	"github.com/sakif/community-library/internal/mirror"
	"github.com/sakif/community-library/internal/repository/sqlite"
	"github.com/sakif/community-library/internal/service"
)

type testAPI struct {
	router http.Handler
	svc    *service.Services
	tokens *auth.TokenService
}

// newTestAPI builds the API over an in-memory sqlite store. With secure set,
// every route requires a token and the casbin policy applies.
func newTestAPI(t *testing.T, secure bool) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := mirror.New(store, logger)
	svc := service.New(service.Backend{Store: store, Mirror: m, Logger: logger}, nil, nil)

	api := &testAPI{svc: svc}
	r := chi.NewRouter()
	var authz *auth.Authorizer
	if secure {
		api.tokens, err = auth.NewTokenService("handler-test-secret-0123456789", time.Hour)
		require.NoError(t, err)
		authz, err = auth.NewAuthorizer(func(uid string) string {
			if u, ok := m.Users.Get(uid); ok && u.IsManager {
				return auth.RoleManager
			}
			return auth.RoleMember
		})
		require.NoError(t, err)
	}

	r.Route("/api", func(r chi.Router) {
		if secure {
			r.Use(auth.RequireAuth(api.tokens))
		}
		handler.MountAPI(r, handler.Deps{Services: svc, Mirror: m, Authz: authz, Logger: logger})
	})
	api.router = r
	return api
}

type result struct {
	Code int
	Body map[string]any
}

// do sends a request as uid (anonymous when uid is empty or the API is not
// secured) and decodes the JSON envelope.
func (a *testAPI) do(t *testing.T, method, path, uid string, body any) result {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" && a.tokens != nil {
		token, err := a.tokens.Generate(uid)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	out := result{Code: rec.Code}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.Body), "body: %s", rec.Body.String())
	return out
}

func (a *testAPI) signUp(t *testing.T, uid string, manager bool) {
	t.Helper()
	_, err := a.svc.Users.SignUp(context.Background(), service.SignUpInput{
		UID:       uid,
		Email:     uid + "@example.org",
		FirstName: "First-" + uid,
		LastName:  "Last",
	})
	require.NoError(t, err)
	if manager {
		_, err = a.svc.Users.SetManager(context.Background(), uid, true)
		require.NoError(t, err)
	}
}

func (a *testAPI) addBook(t *testing.T, title string, copies int) (bookID string, copyIDs []int64) {
	t.Helper()
	b, cs, err := a.svc.Books.AddBook(context.Background(), service.BookInput{Title: title, Author: "Octavia E. Butler"}, copies)
	require.NoError(t, err)
	for _, c := range cs {
		copyIDs = append(copyIDs, c.CopyID)
	}
	return b.ID, copyIDs
}

// =========================================================================
// LIFECYCLE OVER HTTP
// =========================================================================

func TestAPI_BorrowLifecycle(t *testing.T) {
	api := newTestAPI(t, false)

	res := api.do(t, http.MethodPost, "/api/users/signUp", "", map[string]any{
		"uid": "u1", "email": "u1@example.org", "firstName": "Ada", "lastName": "Lovelace", "familySize": 2,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	assert.Equal(t, true, res.Body["success"])

	res = api.do(t, http.MethodPost, "/api/books/add", "", map[string]any{
		"title": "Kindred", "author": "Octavia E. Butler", "category": "Fiction", "copies": 2,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	book := res.Body["book"].(map[string]any)
	bookID := book["id"].(string)
	assert.EqualValues(t, 2, book["copies"])
	assert.Equal(t, []any{float64(1), float64(2)}, book["copiesID"])

	res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/waiting-list", "", map[string]any{"uid": "u1"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	assert.Equal(t, "pending", res.Body["record"].(map[string]any)["status"])

	res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/waiting-list", "", map[string]any{"uid": "u1"})
	assert.Equal(t, http.StatusConflict, res.Code)
	assert.Equal(t, "conflict", res.Body["error"])

	res = api.do(t, http.MethodPost, "/api/loans/accept", "", map[string]any{"bookId": bookID, "copyID": 1, "uid": "u1"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	loan := res.Body["loan"].(map[string]any)
	assert.Equal(t, "accepted", loan["record"].(map[string]any)["status"])

	res = api.do(t, http.MethodGet, "/api/books/"+bookID+"/available-copies", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["copies"], 1)

	res = api.do(t, http.MethodGet, "/api/borrowed-books-details", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["copies"], 1)

	res = api.do(t, http.MethodPost, "/api/loans/return", "", map[string]any{"copyID": 1})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.Equal(t, "Kindred", res.Body["history"].(map[string]any)["title"])

	res = api.do(t, http.MethodGet, "/api/users/u1", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	user := res.Body["user"].(map[string]any)
	assert.Empty(t, user["borrowBooksList"])
	assert.Len(t, user["historyBooks"], 1)

	res = api.do(t, http.MethodGet, "/api/admin/integrity", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, true, res.Body["ok"])
}

func TestAPI_StepByStepRoutes(t *testing.T) {
	api := newTestAPI(t, false)
	api.signUp(t, "u1", false)
	bookID, copyIDs := api.addBook(t, "Parable of the Sower", 1)

	res := api.do(t, http.MethodPost, "/api/users/u1/borrow-books-list", "", map[string]any{"bookId": bookID})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = api.do(t, http.MethodPut, "/api/copies/updateBorrowedTo", "", map[string]any{
		"copyID": copyIDs[0], "uid": "u1", "title": "Parable of the Sower",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	// A copy has one holder at a time.
	res = api.do(t, http.MethodPut, "/api/copies/updateBorrowedTo", "", map[string]any{
		"copyID": copyIDs[0], "uid": "u1",
	})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = api.do(t, http.MethodPut, "/api/users/u1/update-status", "", map[string]any{
		"title": "Parable of the Sower", "status": "pending",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = api.do(t, http.MethodPost, "/api/users/u1/accept-borrow-books-list", "", map[string]any{"title": "Parable of the Sower"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodDelete, "/api/books/"+bookID+"/waiting-list?uid=u1", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodPut, "/api/copies/returnCopy", "", map[string]any{"copyID": copyIDs[0]})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodPut, "/api/users/u1/addToHistory", "", map[string]any{
		"copyID": copyIDs[0], "title": "Parable of the Sower",
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodDelete, "/api/users/u1/deletebookfromborrowlist?title=Parable+of+the+Sower", "", nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodDelete, "/api/users/u1/deletebookfromborrowlist?title=Parable+of+the+Sower", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

// =========================================================================
// ERROR MAPPING
// =========================================================================

func TestAPI_ErrorResponses(t *testing.T) {
	api := newTestAPI(t, false)
	api.signUp(t, "u1", false)
	bookID, _ := api.addBook(t, "Kindred", 1)

	tests := []struct {
		name      string
		method    string
		path      string
		body      any
		wantCode  int
		wantError string
	}{
		{"unknown book", http.MethodGet, "/api/books/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown user", http.MethodGet, "/api/users/ghost", nil, http.StatusNotFound, "not_found"},
		{"duplicate sign up", http.MethodPost, "/api/users/signUp", map[string]any{"uid": "u1"}, http.StatusConflict, "conflict"},
		{"missing title", http.MethodPost, "/api/books/add", map[string]any{"author": "x"}, http.StatusBadRequest, "validation_error"},
		{"bad copy id", http.MethodDelete, "/api/books/" + bookID + "/removeCopy/abc", nil, http.StatusBadRequest, "validation_error"},
		{"copy of another book", http.MethodDelete, "/api/books/" + bookID + "/removeCopy/99", nil, http.StatusNotFound, "not_found"},
		{"rating out of range", http.MethodPost, "/api/books/" + bookID + "/rate", map[string]any{"uid": "u1", "score": 6}, http.StatusBadRequest, "validation_error"},
		{"missing body", http.MethodPost, "/api/loans/return", nil, http.StatusBadRequest, "validation_error"},
		{"return unknown copy", http.MethodPost, "/api/loans/return", map[string]any{"copyID": 42}, http.StatusNotFound, "not_found"},
		{"by-title without title", http.MethodGet, "/api/copies/by-title", nil, http.StatusBadRequest, "validation_error"},
		{"email without smtp", http.MethodPost, "/api/users/u1/send-email", map[string]any{"message": "hi"}, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := api.do(t, tt.method, tt.path, "", tt.body)
			assert.Equal(t, tt.wantCode, res.Code, res.Body)
			assert.Equal(t, false, res.Body["success"])
			assert.Equal(t, tt.wantError, res.Body["error"])
			assert.NotEmpty(t, res.Body["message"])
		})
	}
}

func TestAPI_InvalidJSON(t *testing.T) {
	api := newTestAPI(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/books/add", bytes.NewBufferString(`{"title":`))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation_error", body.Error)
	assert.Equal(t, "body", body.Field)
}

// =========================================================================
// CATALOG, FEEDBACK, NOTIFICATIONS, REQUESTS
// =========================================================================

func TestAPI_CatalogAndFeedback(t *testing.T) {
	api := newTestAPI(t, false)
	api.signUp(t, "u1", false)
	bookID, _ := api.addBook(t, "Kindred", 1)
	api.addBook(t, "Dawn", 1)

	res := api.do(t, http.MethodGet, "/api/books/getAllBooksData?query=kin", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["books"], 1)

	res = api.do(t, http.MethodGet, "/api/books/authors", "", nil)
	assert.Equal(t, []any{"Octavia E. Butler"}, res.Body["authors"])

	res = api.do(t, http.MethodGet, "/api/books/recommendations", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, []any{}, res.Body["books"])

	res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/rate", "", map[string]any{"uid": "u1", "score": 4})
	require.Equal(t, http.StatusOK, res.Code, res.Body)
	assert.EqualValues(t, 4, res.Body["averageRating"])

	res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/rate", "", map[string]any{"uid": "u1", "score": 2})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/review", "", map[string]any{"uid": "u1", "text": "Unsettling."})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = api.do(t, http.MethodPut, "/api/books/update/"+bookID, "", map[string]any{"title": "Kindred (Graphic Novel)"})
	require.Equal(t, http.StatusOK, res.Code, res.Body)

	res = api.do(t, http.MethodGet, "/api/copies/by-title?title=Kindred+%28Graphic+Novel%29", "", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Len(t, res.Body["copies"], 1)
}

func TestAPI_NotificationsAndRequests(t *testing.T) {
	api := newTestAPI(t, false)
	api.signUp(t, "u1", false)

	res := api.do(t, http.MethodPost, "/api/users/u1/notifications", "", map[string]any{"message": "Welcome"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)

	res = api.do(t, http.MethodGet, "/api/users/u1/notifications/unread-count", "", nil)
	assert.EqualValues(t, 1, res.Body["unreadCount"])

	res = api.do(t, http.MethodPut, "/api/users/u1/notifications/mark-all-read", "", nil)
	assert.EqualValues(t, 1, res.Body["updated"])

	res = api.do(t, http.MethodGet, "/api/users/u1/notifications", "", nil)
	assert.Len(t, res.Body["notifications"], 1)

	res = api.do(t, http.MethodPost, "/api/requests", "", map[string]any{"uid": "u1", "requestText": "More poetry please"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body)
	id := res.Body["request"].(map[string]any)["id"].(string)

	res = api.do(t, http.MethodGet, "/api/requests", "", nil)
	assert.Len(t, res.Body["requests"], 1)

	res = api.do(t, http.MethodDelete, "/api/requests/"+id, "", nil)
	assert.Equal(t, http.StatusOK, res.Code)

	res = api.do(t, http.MethodDelete, "/api/requests/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

// =========================================================================
// AUTHENTICATION AND ROLES
// =========================================================================

func TestAPI_Authorization(t *testing.T) {
	api := newTestAPI(t, true)
	api.signUp(t, "member", false)
	api.signUp(t, "other", false)
	api.signUp(t, "librarian", true)
	bookID, _ := api.addBook(t, "Kindred", 1)

	t.Run("no token", func(t *testing.T) {
		res := api.do(t, http.MethodGet, "/api/books/getAllBooksData", "", nil)
		assert.Equal(t, http.StatusUnauthorized, res.Code)
	})

	t.Run("member reads the catalog", func(t *testing.T) {
		res := api.do(t, http.MethodGet, "/api/books/getAllBooksData", "member", nil)
		assert.Equal(t, http.StatusOK, res.Code)
	})

	t.Run("member cannot add books", func(t *testing.T) {
		res := api.do(t, http.MethodPost, "/api/books/add", "member", map[string]any{"title": "X", "author": "Y"})
		assert.Equal(t, http.StatusForbidden, res.Code)
		assert.Equal(t, "forbidden", res.Body["error"])
	})

	t.Run("manager adds books", func(t *testing.T) {
		res := api.do(t, http.MethodPost, "/api/books/add", "librarian", map[string]any{"title": "X", "author": "Y"})
		assert.Equal(t, http.StatusCreated, res.Code)
	})

	t.Run("member reads own profile only", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/users/member", "member", nil).Code)
		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/users/other", "member", nil).Code)
		assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/users/other", "librarian", nil).Code)
	})

	t.Run("member queues self, defaulting to the caller", func(t *testing.T) {
		res := api.do(t, http.MethodPost, "/api/books/"+bookID+"/waiting-list", "member", map[string]any{})
		assert.Equal(t, http.StatusCreated, res.Code, res.Body)

		res = api.do(t, http.MethodPost, "/api/books/"+bookID+"/waiting-list", "member", map[string]any{"uid": "other"})
		assert.Equal(t, http.StatusForbidden, res.Code)
	})

	t.Run("reports and loans are manager only", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodGet, "/api/waiting-list/details", "member", nil).Code)
		assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, "/api/loans/return", "member", map[string]any{"copyID": 1}).Code)

		res := api.do(t, http.MethodGet, "/api/waiting-list/details", "librarian", nil)
		require.Equal(t, http.StatusOK, res.Code)
		assert.Len(t, res.Body["books"], 1)
	})
}
