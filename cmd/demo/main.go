// Demo service provider wiring the five routes, a sqlite account store and
// cookie sessions. Configuration comes from the environment:
//
//	SAMLSP_ENTITY_ID       SP entity ID
//	SAMLSP_ACS             assertion consumer service URL
//	SAMLSP_SLS             single logout service URL (optional)
//	SAMLSP_IDP_ENTITY_ID   IdP entity ID
//	SAMLSP_IDP_SSO         IdP single sign-on URL
//	SAMLSP_IDP_SLO         IdP single logout URL (optional)
//	SAMLSP_IDP_CERT_FILE   PEM file with the IdP signing certificate (optional)
//	SAMLSP_SESSION_SECRET  cookie signing secret, at least 32 bytes
//	SAMLSP_DB              sqlite database path (default demo.db)
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/samlx/samlsp"
	"github.com/samlx/samlsp/account"
	"github.com/samlx/samlsp/handler"
	"github.com/samlx/samlsp/store/sqlite"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{Name: "samlsp-demo"})

	entityID, err := url.Parse(os.Getenv("SAMLSP_ENTITY_ID"))
	exitOnError(err)

	acs, err := url.Parse(os.Getenv("SAMLSP_ACS"))
	exitOnError(err)

	idpSSO, err := url.Parse(os.Getenv("SAMLSP_IDP_SSO"))
	exitOnError(err)

	cfg := &samlsp.Config{
		EntityID:                    entityID,
		AssertionConsumerServiceURL: acs,
		IdPEntityID:                 os.Getenv("SAMLSP_IDP_ENTITY_ID"),
		IdPSSOURL:                   idpSSO,
		Logger:                      logger,
	}

	if sls := os.Getenv("SAMLSP_SLS"); sls != "" {
		cfg.SingleLogoutServiceURL, err = url.Parse(sls)
		exitOnError(err)
	}
	if slo := os.Getenv("SAMLSP_IDP_SLO"); slo != "" {
		cfg.IdPSLOURL, err = url.Parse(slo)
		exitOnError(err)
	}
	if certFile := os.Getenv("SAMLSP_IDP_CERT_FILE"); certFile != "" {
		pem, err := os.ReadFile(certFile)
		exitOnError(err)
		cfg.IdPCertificates = []string{string(pem)}
		cfg.Security.WantMessagesSigned = true
	}

	dbPath := os.Getenv("SAMLSP_DB")
	if dbPath == "" {
		dbPath = "demo.db"
	}
	store, err := sqlite.Open(dbPath, []string{"name", "mail"})
	exitOnError(err)
	defer store.Close()

	resolver, err := account.NewResolver(account.Config{
		Map: account.AttributeMap{
			"name": {Attribute: "urn:oid:2.5.4.3"},
			"mail": {Attribute: "urn:oid:0.9.2342.19200300.100.1.3", UseForLinking: true},
		},
		CreateUsers:        true,
		RequireForCreation: []string{"name", "mail"},
	}, store)
	exitOnError(err)

	sp, err := samlsp.NewServiceProvider(cfg, samlsp.WithAccountResolver(resolver))
	exitOnError(err)

	sessions, err := handler.NewSessions([]byte(os.Getenv("SAMLSP_SESSION_SECRET")), acs.Scheme == "https")
	exitOnError(err)

	login, err := handler.LoginHandlerFunc(sp)
	exitOnError(err)
	logout, err := handler.LogoutHandlerFunc(sp, sessions)
	exitOnError(err)
	acsHandler, err := handler.ACSHandlerFunc(sp, sessions)
	exitOnError(err)
	sls, err := handler.SLSHandlerFunc(sp, sessions)
	exitOnError(err)
	metadata, err := handler.MetadataHandlerFunc(sp)
	exitOnError(err)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/sso/login", login)
	r.Get("/sso/logout", logout)
	r.Post("/sso/acs", acsHandler)
	r.Get("/sso/sls", sls)
	r.Post("/sso/sls", sls)
	r.Get("/sso/metadata", metadata)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		session, err := sessions.Read(r)
		if err != nil {
			fmt.Fprint(w, `<html><a href="/sso/login">Log in</a></html>`)
			return
		}
		fmt.Fprintf(w, `<html>Logged in as %s. <a href="/sso/logout">Log out</a></html>`, session.NameID)
	})

	fmt.Println("Visit http://localhost:8000/")

	exitOnError(http.ListenAndServe(":8000", r))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("failed to run demo: %s\n", err.Error())
		os.Exit(1)
	}
}
