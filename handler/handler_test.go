package handler_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp"
	"github.com/samlx/samlsp/handler"
)

func testServiceProvider(t *testing.T, mutate func(cfg *samlsp.Config)) *samlsp.ServiceProvider {
	t.Helper()
	r := require.New(t)

	parse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		r.NoError(err)
		return u
	}

	cfg := &samlsp.Config{
		EntityID:                    parse("http://sp.test.me"),
		AssertionConsumerServiceURL: parse("http://sp.test.me/sso/acs"),
		SingleLogoutServiceURL:      parse("http://sp.test.me/sso/sls"),
		IdPEntityID:                 "http://idp.test.me",
		IdPSSOURL:                   parse("http://idp.test.me/sso/redirect"),
		IdPSLOURL:                   parse("http://idp.test.me/slo/redirect"),
	}
	if mutate != nil {
		mutate(cfg)
	}

	sp, err := samlsp.NewServiceProvider(cfg)
	r.NoError(err)

	return sp
}

func testSessions(t *testing.T) *handler.Sessions {
	t.Helper()
	sessions, err := handler.NewSessions(testSecret, false)
	require.NoError(t, err)
	return sessions
}

func Test_LoginHandlerFunc(t *testing.T) {
	t.Run("missing service provider", func(t *testing.T) {
		r := require.New(t)
		_, err := handler.LoginHandlerFunc(nil)
		r.ErrorContains(err, "missing service provider")
	})

	t.Run("redirects to the IdP", func(t *testing.T) {
		r := require.New(t)

		fn, err := handler.LoginHandlerFunc(testServiceProvider(t, nil))
		r.NoError(err)

		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/sso/login?destination=/dashboard", nil))

		r.Equal(http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		r.True(strings.HasPrefix(location, "http://idp.test.me/sso/redirect?"))
		r.Contains(location, "SAMLRequest=")
		r.Contains(location, "RelayState=%2Fdashboard")
	})

	t.Run("off-site destination is rejected", func(t *testing.T) {
		r := require.New(t)

		fn, err := handler.LoginHandlerFunc(testServiceProvider(t, nil))
		r.NoError(err)

		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet,
			"/sso/login?destination=https://evil.example.com/", nil))

		r.Equal(http.StatusBadRequest, rec.Code)
	})
}

func Test_PostBindingLoginHandlerFunc(t *testing.T) {
	r := require.New(t)

	fn, err := handler.PostBindingLoginHandlerFunc(testServiceProvider(t, nil))
	r.NoError(err)

	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/sso/login", nil))

	r.Equal(http.StatusOK, rec.Code)
	r.Contains(rec.Header().Get("Content-Security-Policy"), "script-src")
	r.Contains(rec.Body.String(), "SAMLRequest")
	r.Contains(rec.Body.String(), "http://idp.test.me/sso/redirect")
}

func Test_ACSHandlerFunc(t *testing.T) {
	t.Run("missing arguments", func(t *testing.T) {
		r := require.New(t)

		_, err := handler.ACSHandlerFunc(nil, testSessions(t))
		r.ErrorContains(err, "missing service provider")

		_, err = handler.ACSHandlerFunc(testServiceProvider(t, nil), nil)
		r.ErrorContains(err, "missing session manager")
	})

	t.Run("invalid response is a generic 401", func(t *testing.T) {
		r := require.New(t)

		fn, err := handler.ACSHandlerFunc(testServiceProvider(t, nil), testSessions(t))
		r.NoError(err)

		form := url.Values{"SAMLResponse": {"not-a-response"}}
		req := httptest.NewRequest(http.MethodPost, "/sso/acs",
			strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := httptest.NewRecorder()
		fn(rec, req)

		r.Equal(http.StatusUnauthorized, rec.Code)
		r.Contains(rec.Body.String(), "login could not be completed")
		// The generic message never leaks the validation detail.
		r.NotContains(rec.Body.String(), "base64")
	})
}

func Test_LogoutHandlerFunc(t *testing.T) {
	t.Run("no session clears and redirects locally", func(t *testing.T) {
		r := require.New(t)

		fn, err := handler.LogoutHandlerFunc(testServiceProvider(t, nil), testSessions(t))
		r.NoError(err)

		rec := httptest.NewRecorder()
		fn(rec, httptest.NewRequest(http.MethodGet, "/sso/logout", nil))

		r.Equal(http.StatusFound, rec.Code)
		r.Equal("/", rec.Header().Get("Location"))

		cookies := rec.Result().Cookies()
		r.Len(cookies, 1)
		r.Equal(-1, cookies[0].MaxAge)
	})

	t.Run("session starts single logout at the IdP", func(t *testing.T) {
		r := require.New(t)

		sessions := testSessions(t)
		fn, err := handler.LogoutHandlerFunc(testServiceProvider(t, nil), sessions)
		r.NoError(err)

		issued := httptest.NewRecorder()
		r.NoError(sessions.Issue(issued, &handler.Session{
			NameID:       "tester@example.com",
			SessionIndex: "_session-42",
		}))

		req := httptest.NewRequest(http.MethodGet, "/sso/logout", nil)
		for _, c := range issued.Result().Cookies() {
			req.AddCookie(c)
		}

		rec := httptest.NewRecorder()
		fn(rec, req)

		r.Equal(http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		r.True(strings.HasPrefix(location, "http://idp.test.me/slo/redirect?"))
		r.Contains(location, "SAMLRequest=")
	})
}

func Test_SLSHandlerFunc(t *testing.T) {
	r := require.New(t)

	fn, err := handler.SLSHandlerFunc(testServiceProvider(t, nil), testSessions(t))
	r.NoError(err)

	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/sso/sls", nil))

	// Neither SAMLResponse nor SAMLRequest present.
	r.Equal(http.StatusBadRequest, rec.Code)
}

func Test_MetadataHandlerFunc(t *testing.T) {
	r := require.New(t)

	fn, err := handler.MetadataHandlerFunc(testServiceProvider(t, nil))
	r.NoError(err)

	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, "/sso/metadata", nil))

	r.Equal(http.StatusOK, rec.Code)
	r.Equal("text/xml", rec.Header().Get("Content-Type"))
	r.Contains(rec.Body.String(), "EntityDescriptor")
	r.Contains(rec.Body.String(), "http://sp.test.me/sso/acs")
}
