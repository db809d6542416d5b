package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/community-library/internal/apperror"
)

func newTestAuthorizer(t *testing.T) *Authorizer {
	t.Helper()
	managers := map[string]bool{"librarian": true}
	a, err := NewAuthorizer(func(uid string) string {
		if managers[uid] {
			return RoleManager
		}
		return RoleMember
	})
	require.NoError(t, err)
	return a
}

func requestAs(uid string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if uid == "" {
		return r
	}
	return r.WithContext(WithUID(r.Context(), uid))
}

func TestAuthorizer_Policy(t *testing.T) {
	a := newTestAuthorizer(t)

	tests := []struct {
		uid, obj, act string
		want          bool
	}{
		{"reader", ObjCatalog, ActRead, true},
		{"reader", ObjCatalog, ActWrite, false},
		{"reader", ObjLoan, ActRequest, true},
		{"reader", ObjLoan, ActManage, false},
		{"reader", ObjReport, ActRead, false},
		{"reader", ObjAdmin, ActManage, false},
		{"librarian", ObjCatalog, ActRead, true},
		{"librarian", ObjCatalog, ActWrite, true},
		{"librarian", ObjLoan, ActRequest, true},
		{"librarian", ObjLoan, ActManage, true},
		{"librarian", ObjReport, ActRead, true},
		{"librarian", ObjAdmin, ActManage, true},
	}

	for _, tt := range tests {
		t.Run(tt.uid+"/"+tt.obj+"/"+tt.act, func(t *testing.T) {
			got, err := a.Allowed(tt.uid, tt.obj, tt.act)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthorizer_CheckSelf(t *testing.T) {
	a := newTestAuthorizer(t)

	assert.NoError(t, a.CheckSelf(requestAs("reader"), "reader", ObjProfile, ActWrite))
	assert.NoError(t, a.CheckSelf(requestAs("librarian"), "reader", ObjProfile, ActWrite))

	err := a.CheckSelf(requestAs("reader"), "someone-else", ObjProfile, ActWrite)
	assert.Equal(t, apperror.CodeForbidden, apperror.Kind(err))

	err = a.CheckSelf(requestAs(""), "reader", ObjProfile, ActRead)
	assert.Equal(t, apperror.CodeForbidden, apperror.Kind(err))
}

func TestAuthorizer_Require(t *testing.T) {
	a := newTestAuthorizer(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	a.Require(ObjReport, ActRead)(ok).ServeHTTP(rec, requestAs("reader"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"forbidden"`)

	rec = httptest.NewRecorder()
	a.Require(ObjReport, ActRead)(ok).ServeHTTP(rec, requestAs("librarian"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuthorizer_NilAllowsEverything(t *testing.T) {
	var a *Authorizer

	allowed, err := a.Allowed("anyone", ObjAdmin, ActManage)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, a.Check(requestAs(""), ObjAdmin, ActManage))
	assert.NoError(t, a.CheckSelf(requestAs("a"), "b", ObjProfile, ActWrite))
}

func TestNewAuthorizer_RequiresResolver(t *testing.T) {
	_, err := NewAuthorizer(nil)
	assert.Error(t, err)
}
