// Package handler provides net/http handler functions for the five service
// provider routes: login, logout, acs, sls, and metadata. Handlers surface
// only generic messages to the browser; transaction detail goes to the
// provider's structured log.
package handler

import (
	"fmt"
	"net/http"

	"github.com/samlx/samlsp"
)

// LoginHandlerFunc starts a login. The optional "destination" query
// parameter names the local path to land on afterwards; off-site
// destinations are rejected.
func LoginHandlerFunc(sp *samlsp.ServiceProvider) (http.HandlerFunc, error) {
	const op = "handler.LoginHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		redirect, err := sp.Login(r.URL.Query().Get("destination"))
		if err != nil {
			http.Error(w, "login failed", http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, redirect.URL, http.StatusFound)
	}, nil
}

// PostBindingLoginHandlerFunc starts a login with the HTTP-POST binding,
// serving the self-submitting form instead of redirecting.
func PostBindingLoginHandlerFunc(sp *samlsp.ServiceProvider) (http.HandlerFunc, error) {
	const op = "handler.PostBindingLoginHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		form, _, err := sp.LoginPost(r.URL.Query().Get("destination"))
		if err != nil {
			http.Error(w, "login failed", http.StatusBadRequest)
			return
		}

		samlsp.WritePostBindingRequestHeader(w)
		if _, err := w.Write(form); err != nil {
			sp.Config().Logger.Error("failed to serve post binding form", "error", err)
		}
	}, nil
}
