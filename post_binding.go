package samlsp

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"fmt"
	"net/http"
	"text/template"

	"github.com/samlx/samlsp/models/core"
)

const (
	postBindingScriptSha256 = "T8Q9GZiIVtYoNIdF6UW5hDNgJudFDijQM/usO+xUkes="
)

//go:embed authn_request.gohtml
var postBindingTempl string

// AuthnRequestPost creates an AuthnRequest and a self-submitting HTML form
// carrying it with the HTTP POST binding.
func (sp *ServiceProvider) AuthnRequestPost(
	relayState string, opt ...Option,
) ([]byte, *core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.AuthnRequestPost"

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	authN, err := sp.CreateAuthnRequest(requestID, opt...)
	if err != nil {
		return nil, nil, err
	}

	opts := getAuthnRequestOptions(opt...)
	payload, err := authN.CreateXMLDocument(opts.indent)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	tmpl := template.Must(
		template.New("post-binding").Parse(postBindingTempl),
	)

	buf := bytes.Buffer{}

	if err := tmpl.Execute(&buf, map[string]string{
		"Destination": authN.Destination,
		"SAMLRequest": b64Payload,
		"RelayState":  relayState,
	}); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to render form: %w", op, err)
	}

	return buf.Bytes(), authN, nil
}

// WritePostBindingRequestHeader sets the CSP and content-type headers for a
// POST binding form response.
func WritePostBindingRequestHeader(w http.ResponseWriter) {
	w.Header().
		Add("Content-Security-Policy", fmt.Sprintf("script-src '%s'", postBindingScriptSha256))
	w.Header().Add("Content-type", "text/html")
}
