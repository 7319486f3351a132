package handler_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp/handler"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func Test_NewSessions(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := require.New(t)
		sessions, err := handler.NewSessions(testSecret, false)
		r.NoError(err)
		r.NotNil(sessions)
	})

	t.Run("short secret", func(t *testing.T) {
		r := require.New(t)
		_, err := handler.NewSessions([]byte("too-short"), false)
		r.ErrorContains(err, "at least 32 bytes")
	})
}

// requestWithCookies copies the cookies set on a recorder onto a fresh
// request, the way a browser would return them.
func requestWithCookies(t *testing.T, rec *httptest.ResponseRecorder) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func Test_Sessions_RoundTrip(t *testing.T) {
	r := require.New(t)

	sessions, err := handler.NewSessions(testSecret, false)
	r.NoError(err)

	want := &handler.Session{
		AccountID:    "acct-1",
		NameID:       "tester@example.com",
		NameIDFormat: "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent",
		SessionIndex: "_session-42",
		Roles:        []string{"editors", "saml-user"},
	}

	rec := httptest.NewRecorder()
	r.NoError(sessions.Issue(rec, want))

	cookies := rec.Result().Cookies()
	r.Len(cookies, 1)
	r.True(cookies[0].HttpOnly)
	r.Equal(http.SameSiteLaxMode, cookies[0].SameSite)

	got, err := sessions.Read(requestWithCookies(t, rec))
	r.NoError(err)
	r.Equal(want, got)
}

func Test_Sessions_Read_Failures(t *testing.T) {
	r := require.New(t)

	sessions, err := handler.NewSessions(testSecret, false)
	r.NoError(err)

	t.Run("no cookie", func(t *testing.T) {
		r := require.New(t)
		_, err := sessions.Read(httptest.NewRequest(http.MethodGet, "/", nil))
		r.ErrorIs(err, handler.ErrNoSession)
	})

	t.Run("cookie signed with another secret", func(t *testing.T) {
		r := require.New(t)

		other, err := handler.NewSessions([]byte("ffffffffffffffffffffffffffffffff"), false)
		r.NoError(err)

		rec := httptest.NewRecorder()
		r.NoError(other.Issue(rec, &handler.Session{NameID: "tester@example.com"}))

		_, err = sessions.Read(requestWithCookies(t, rec))
		r.ErrorIs(err, handler.ErrNoSession)
	})

	t.Run("garbage cookie value", func(t *testing.T) {
		r := require.New(t)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "samlsp_session", Value: "not-a-token"})

		_, err := sessions.Read(req)
		r.ErrorIs(err, handler.ErrNoSession)
	})
}

func Test_Sessions_Clear(t *testing.T) {
	r := require.New(t)

	sessions, err := handler.NewSessions(testSecret, false)
	r.NoError(err)

	rec := httptest.NewRecorder()
	sessions.Clear(rec)

	cookies := rec.Result().Cookies()
	r.Len(cookies, 1)
	r.Empty(cookies[0].Value)
	r.Equal(-1, cookies[0].MaxAge)
}
