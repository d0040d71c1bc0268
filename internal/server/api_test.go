package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Tyrowin/counselchat/internal/auth"
	"github.com/Tyrowin/counselchat/internal/domain"
)

func apiRequest(method, target, token, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, http.NoBody)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func serve(f *chatFixture, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Routes().ServeHTTP(rec, r)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestHealthHandler(t *testing.T) {
	f := newChatFixture(t)
	rec := serve(f, apiRequest(http.MethodGet, "/", "", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	require.Equal(t, "Chat server is running!", rec.Body.String())

	rec = serve(f, apiRequest(http.MethodGet, "/nope", "", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketRouteRejectsBadGroupAndMethod(t *testing.T) {
	f := newChatFixture(t)

	rec := serve(f, apiRequest(http.MethodGet, "/ws/abc", "", ""))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(f, apiRequest(http.MethodPost, "/ws/3", "", ""))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	t.Run("requires a valid token", func(t *testing.T) {
		f := standardFixture(t)
		rec := serve(f, apiRequest(http.MethodGet, "/api/groups/3/messages", "", ""))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("forbids non-members", func(t *testing.T) {
		f := standardFixture(t)
		rec := serve(f, apiRequest(http.MethodGet, "/api/groups/3/messages", "carol", ""))
		require.Equal(t, http.StatusForbidden, rec.Code)
		require.Equal(t, domain.ErrNotMember.Error(), decodeDetail(t, rec))
	})

	t.Run("rejects out of range paging", func(t *testing.T) {
		f := standardFixture(t)
		for _, query := range []string{"?limit=500", "?limit=-1", "?before=x", "?before=-4"} {
			rec := serve(f, apiRequest(http.MethodGet, "/api/groups/3/messages"+query, "alice", ""))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, query)
		}
	})

	t.Run("returns a page newest first", func(t *testing.T) {
		req := require.New(t)
		f := standardFixture(t)

		newer := storedMessage(12, 3, dupont, "see clause 4")
		newer.AuthorDisplayName = "Maître Dupont"
		older := storedMessage(11, 3, alice, "question")
		older.AuthorDisplayName = "Alice"

		f.messages.EXPECT().
			ListMessages(gomock.Any(), int64(3), domain.Page{BeforeID: 20, Limit: 2}).
			Return([]domain.Message{newer, older}, nil)

		rec := serve(f, apiRequest(http.MethodGet, "/api/groups/3/messages?before=20&limit=2", "bob", ""))
		req.Equal(http.StatusOK, rec.Code)

		var body historyResponse
		req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		req.Len(body.Messages, 2)
		req.Equal(int64(12), body.Messages[0].ID)
		req.Empty(body.Messages[0].Type)
		req.Equal(domain.RoleLawyer, body.Messages[0].AuthorRole)
		req.Equal("Maître Dupont", body.Messages[0].AuthorDisplayName)
		req.Equal("2026-03-01T09:30:00Z", body.Messages[1].CreatedAt)
	})

	t.Run("uses the configured default page size", func(t *testing.T) {
		f := standardFixture(t)
		f.messages.EXPECT().
			ListMessages(gomock.Any(), int64(3), domain.Page{Limit: domain.DefaultPageSize}).
			Return(nil, nil)

		rec := serve(f, apiRequest(http.MethodGet, "/api/groups/3/messages", "alice", ""))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"messages":[]}`, rec.Body.String())
	})
}

func TestDeleteMessage(t *testing.T) {
	t.Run("broadcasts the deletion to the group", func(t *testing.T) {
		req := require.New(t)
		f := standardFixture(t)

		listener := detachedClient(testConfig())
		req.NoError(f.server.Hub().Register(3, listener))

		deleted := storedMessage(41, 3, alice, "oops")
		deleted.DeletedAt = &deleted.CreatedAt
		f.messages.EXPECT().DeleteMessage(gomock.Any(), int64(41), alice).Return(deleted, nil)

		rec := serve(f, apiRequest(http.MethodDelete, "/api/messages/41", "alice", ""))
		req.Equal(http.StatusNoContent, rec.Code)

		frames := drain(listener)
		req.Len(frames, 1)
		req.JSONEq(`{"type":"message.deleted","id":41,"group_id":3}`, string(frames[0]))
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not the author", err: domain.ErrForbidden, status: http.StatusForbidden},
		{name: "missing message", err: domain.ErrMessageNotFound, status: http.StatusNotFound},
		{name: "store failure", err: errors.New("disk I/O error"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := standardFixture(t)
			f.messages.EXPECT().DeleteMessage(gomock.Any(), int64(41), bob).Return(domain.Message{}, tt.err)

			rec := serve(f, apiRequest(http.MethodDelete, "/api/messages/41", "bob", ""))
			require.Equal(t, tt.status, rec.Code)
		})
	}

	t.Run("authors who left the group can still delete", func(t *testing.T) {
		f := newChatFixture(t)
		f.withTokens(map[string]domain.Identity{"carol": carol})
		// No membership expectation: the author check lives in the store.
		f.messages.EXPECT().DeleteMessage(gomock.Any(), int64(41), carol).Return(storedMessage(41, 3, carol, "bye"), nil)

		rec := serve(f, apiRequest(http.MethodDelete, "/api/messages/41", "carol", ""))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("rejects a bad id before touching the store", func(t *testing.T) {
		f := standardFixture(t)
		rec := serve(f, apiRequest(http.MethodDelete, "/api/messages/0", "bob", ""))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("correct horse battery")
	require.NoError(t, err)
	expires := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("issues a token for valid credentials", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleNormal, "alice").Return(alice, hash, nil)
		f.tokens.EXPECT().Issue(alice).Return("signed.jwt.value", expires, nil)

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/login", "",
			`{"username":"alice","password":"correct horse battery"}`))
		req.Equal(http.StatusOK, rec.Code)

		var body tokenResponse
		req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		req.Equal("signed.jwt.value", body.AccessToken)
		req.Equal("bearer", body.TokenType)
		req.Equal("2026-03-01T10:00:00Z", body.ExpiresAt)
	})

	t.Run("lawyer login looks up lawyers", func(t *testing.T) {
		f := newChatFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleLawyer, "L-2041").Return(dupont, hash, nil)
		f.tokens.EXPECT().Issue(dupont).Return("lawyer.jwt", expires, nil)

		rec := serve(f, apiRequest(http.MethodPost, "/api/lawyer-auth/login", "",
			`{"username":"L-2041","password":"correct horse battery"}`))
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newChatFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleNormal, "alice").Return(alice, hash, nil)

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/login", "",
			`{"username":"alice","password":"wrong"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, domain.ErrInvalidCredentials.Error(), decodeDetail(t, rec))
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newChatFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleNormal, "mallory").
			Return(domain.Identity{}, "", domain.ErrIdentityNotFound)

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/login", "",
			`{"username":"mallory","password":"whatever"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid body", func(t *testing.T) {
		f := newChatFixture(t)
		for _, body := range []string{`{"username":"alice"}`, `not json`, `{}`} {
			rec := serve(f, apiRequest(http.MethodPost, "/api/auth/login", "", body))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		}
	})
}

func TestLogoutRevokesToken(t *testing.T) {
	f := standardFixture(t)
	f.tokens.EXPECT().Revoke(gomock.Any(), "alice").Return(nil)

	rec := serve(f, apiRequest(http.MethodPost, "/api/auth/logout", "alice", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Successfully logged out"}`, rec.Body.String())

	rec = serve(f, apiRequest(http.MethodPost, "/api/auth/logout", "", ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister(t *testing.T) {
	t.Run("creates a user with a hashed password", func(t *testing.T) {
		req := require.New(t)
		f := newChatFixture(t)
		erin := domain.Identity{ID: 12, Role: domain.RoleNormal, Login: "erin", DisplayName: "Erin"}
		f.accounts.EXPECT().Register(gomock.Any(), domain.RoleNormal, "erin", "Erin", gomock.Any()).DoAndReturn(
			func(_ context.Context, _ domain.Role, _, _, hash string) (domain.Identity, error) {
				match, err := auth.ComparePassword("tenant-pass", hash)
				req.NoError(err)
				req.True(match)
				return erin, nil
			})

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/register", "",
			`{"username":" erin ","display_name":"Erin","password":"tenant-pass"}`))
		req.Equal(http.StatusCreated, rec.Code)
		req.JSONEq(`{"id":12,"role":"normal","login":"erin","display_name":"Erin"}`, rec.Body.String())
	})

	t.Run("creates a lawyer", func(t *testing.T) {
		f := newChatFixture(t)
		f.accounts.EXPECT().Register(gomock.Any(), domain.RoleLawyer, "L-2041", "Maître Dupont", gomock.Any()).
			Return(dupont, nil)

		rec := serve(f, apiRequest(http.MethodPost, "/api/lawyer-auth/register", "",
			`{"lawyer_id":"L-2041","lawyer_name":"Maître Dupont","password":"counsel-pass"}`))
		require.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("login already taken", func(t *testing.T) {
		f := newChatFixture(t)
		f.accounts.EXPECT().Register(gomock.Any(), domain.RoleNormal, "alice", "", gomock.Any()).
			Return(domain.Identity{}, domain.ErrLoginTaken)

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/register", "",
			`{"username":"alice","password":"another-pass"}`))
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Equal(t, "Username already registered", decodeDetail(t, rec))
	})

	t.Run("invalid body", func(t *testing.T) {
		f := newChatFixture(t)
		for _, body := range []string{`{"username":"erin"}`, `{"username":"   ","password":"x"}`, `[]`} {
			rec := serve(f, apiRequest(http.MethodPost, "/api/auth/register", "", body))
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
		}
	})
}

func TestChangePassword(t *testing.T) {
	hash, err := auth.HashPassword("old-secret")
	require.NoError(t, err)

	t.Run("replaces the hash", func(t *testing.T) {
		req := require.New(t)
		f := standardFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleNormal, "alice").Return(alice, hash, nil)
		f.accounts.EXPECT().SetPasswordHash(gomock.Any(), alice, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ domain.Identity, newHash string) error {
				match, err := auth.ComparePassword("new-secret", newHash)
				req.NoError(err)
				req.True(match)
				return nil
			})

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/change-password", "alice",
			`{"current_password":"old-secret","new_password":"new-secret"}`))
		req.Equal(http.StatusOK, rec.Code)
		req.JSONEq(`{"message":"Password changed successfully"}`, rec.Body.String())
	})

	t.Run("wrong current password", func(t *testing.T) {
		f := standardFixture(t)
		f.accounts.EXPECT().LookupLogin(gomock.Any(), domain.RoleNormal, "alice").Return(alice, hash, nil)

		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/change-password", "alice",
			`{"current_password":"guess","new_password":"new-secret"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Equal(t, "Current password is incorrect", decodeDetail(t, rec))
	})

	t.Run("lawyer token on the user route", func(t *testing.T) {
		f := standardFixture(t)
		rec := serve(f, apiRequest(http.MethodPost, "/api/auth/change-password", "dupont",
			`{"current_password":"old-secret","new_password":"new-secret"}`))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("new password must differ", func(t *testing.T) {
		f := standardFixture(t)
		rec := serve(f, apiRequest(http.MethodPost, "/api/lawyer-auth/change-password", "dupont",
			`{"current_password":"old-secret","new_password":"old-secret"}`))
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestOptionalRoutesNeedTheirCollaborators(t *testing.T) {
	f := newChatFixture(t)

	srv, err := New(testConfig(), Dependencies{
		Validator: f.validator,
		Members:   f.members,
		Messages:  f.messages,
	}, quietLogger())
	require.NoError(t, err)

	for _, r := range []*http.Request{
		apiRequest(http.MethodPost, "/api/auth/login", "", `{}`),
		apiRequest(http.MethodPost, "/api/auth/register", "", `{}`),
		apiRequest(http.MethodPost, "/api/lawyer-auth/change-password", "", `{}`),
		apiRequest(http.MethodGet, "/api/groups", "", ""),
		apiRequest(http.MethodPost, "/api/groups/3/join", "", ""),
	} {
		rec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(rec, r)
		require.Equal(t, http.StatusNotFound, rec.Code, r.URL.Path)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig(), Dependencies{}, quietLogger())
	require.Error(t, err)
}
