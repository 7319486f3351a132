package handler

import (
	"fmt"
	"net/http"

	"github.com/samlx/samlsp"
)

// MetadataHandlerFunc serves the SP metadata document.
func MetadataHandlerFunc(sp *samlsp.ServiceProvider) (http.HandlerFunc, error) {
	const op = "handler.MetadataHandlerFunc"
	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider", op)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := sp.MetadataXML()
		if err != nil {
			http.Error(w, "metadata unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/xml")
		if _, err := w.Write(raw); err != nil {
			sp.Config().Logger.Error("failed to serve metadata", "error", err)
		}
	}, nil
}
