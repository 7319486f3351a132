package handler

import (
	"fmt"
	"net/http"

	"github.com/samlx/samlsp"
)

// LogoutHandlerFunc starts a single logout for the current session. Without
// a session, or when the IdP has no logout endpoint, the local session is
// simply cleared and the browser sent to the post-logout destination.
func LogoutHandlerFunc(sp *samlsp.ServiceProvider, sessions *Sessions) (http.HandlerFunc, error) {
	const op = "handler.LogoutHandlerFunc"
	switch {
	case sp == nil:
		return nil, fmt.Errorf("%s: missing service provider", op)
	case sessions == nil:
		return nil, fmt.Errorf("%s: missing session manager", op)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := r.URL.Query().Get("destination")

		session, err := sessions.Read(r)
		if err != nil || sp.Config().IdPSLOURL == nil {
			sessions.Clear(w)
			dest, err := samlsp.ValidateDestination(returnTo)
			if err != nil || dest == "" {
				dest = sp.Config().PostLogoutURL
			}
			http.Redirect(w, r, dest, http.StatusFound)
			return
		}

		redirect, err := sp.Logout(returnTo, session.NameID, session.SessionIndex)
		if err != nil {
			http.Error(w, "logout failed", http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}, nil
}

// SLSHandlerFunc handles the single-logout endpoint: LogoutResponses to our
// own LogoutRequests and IdP-initiated LogoutRequests, both over the
// redirect binding. Either way the local session ends here.
func SLSHandlerFunc(sp *samlsp.ServiceProvider, sessions *Sessions) (http.HandlerFunc, error) {
	const op = "handler.SLSHandlerFunc"
	switch {
	case sp == nil:
		return nil, fmt.Errorf("%s: missing service provider", op)
	case sessions == nil:
		return nil, fmt.Errorf("%s: missing session manager", op)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		result, err := sp.SLS(r.Context(),
			r.Form.Get("SAMLResponse"),
			r.Form.Get("SAMLRequest"),
			r.Form.Get("RelayState"),
		)
		if err != nil {
			http.Error(w, "logout could not be completed", http.StatusBadRequest)
			return
		}

		sessions.Clear(w)
		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	}, nil
}
