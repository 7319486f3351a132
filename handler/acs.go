package handler

import (
	"fmt"
	"net/http"

	"github.com/samlx/samlsp"
)

// ACSHandlerFunc consumes the IdP's authentication response. On success it
// establishes the local session and redirects to the RelayState destination;
// on any failure the browser sees a generic message and the detail is
// logged.
func ACSHandlerFunc(sp *samlsp.ServiceProvider, sessions *Sessions) (http.HandlerFunc, error) {
	const op = "handler.ACSHandlerFunc"
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

		result, err := sp.ACS(r.Context(),
			r.PostForm.Get("SAMLResponse"),
			r.PostForm.Get("RelayState"),
		)
		if err != nil {
			http.Error(w, "login could not be completed", http.StatusUnauthorized)
			return
		}

		session := &Session{
			NameID:       result.Identity.NameID,
			NameIDFormat: string(result.Identity.NameIDFormat),
			SessionIndex: result.Identity.SessionIndex,
		}
		if result.Outcome != nil && result.Outcome.Account != nil {
			session.AccountID = result.Outcome.Account.ID()
			session.Roles = result.Outcome.Account.Roles()
		}

		if err := sessions.Issue(w, session); err != nil {
			sp.Config().Logger.Error("failed to issue session", "error", err)
			http.Error(w, "login could not be completed", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	}, nil
}
