package samlsp

import (
	"encoding/base64"
	"fmt"
	"net/url"

	dsig "github.com/russellhaering/goxmldsig"

	"github.com/samlx/samlsp/models/core"
)

// AuthnRequestRedirect creates an AuthnRequest and the IdP SSO URL carrying
// it with the HTTP redirect binding. The request payload is deflated,
// base64 encoded and URL encoded; when the security policy requires signed
// requests, SigAlg and Signature query parameters are appended, computed over
// the encoded query string with the SP private key.
func (sp *ServiceProvider) AuthnRequestRedirect(
	relayState string, opt ...Option,
) (*url.URL, *core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.AuthnRequestRedirect"

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	authN, err := sp.CreateAuthnRequest(requestID, opt...)
	if err != nil {
		return nil, nil, err
	}

	redirect, err := sp.redirectURL(authN, authN.Destination, relayState, opt...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return redirect, authN, nil
}

// LogoutRequestRedirect creates a LogoutRequest and the IdP SLO URL carrying
// it with the HTTP redirect binding.
func (sp *ServiceProvider) LogoutRequestRedirect(
	nameID string, sessionIndex string, relayState string, opt ...Option,
) (*url.URL, *core.LogoutRequest, error) {
	const op = "samlsp.ServiceProvider.LogoutRequestRedirect"

	logoutReq, err := sp.CreateLogoutRequest(nameID, sessionIndex, opt...)
	if err != nil {
		return nil, nil, err
	}

	redirect, err := sp.redirectURL(logoutReq, logoutReq.Destination, relayState, opt...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return redirect, logoutReq, nil
}

func (sp *ServiceProvider) redirectURL(
	message interface{}, destination, relayState string, opt ...Option,
) (*url.URL, error) {
	payload, err := Deflate(message, opt...)
	if err != nil {
		return nil, fmt.Errorf("failed to deflate/compress message: %w", err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	redirect, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("failed to parse destination URL: %w", err)
	}

	param := "SAMLRequest"
	if _, ok := message.(*core.LogoutResponse); ok {
		param = "SAMLResponse"
	}

	query, err := sp.redirectQuery(param, b64Payload, relayState)
	if err != nil {
		return nil, err
	}

	if existing := redirect.RawQuery; existing != "" {
		redirect.RawQuery = existing + "&" + query
	} else {
		redirect.RawQuery = query
	}

	return redirect, nil
}

// redirectQuery builds the redirect binding query string. The deflate
// encoding rule requires the signature to be computed over the URL encoded
// message, RelayState and SigAlg parameters in exactly that order, so the
// query is assembled by hand instead of via url.Values.
// See 3.4.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-bindings-2.0-os.pdf
func (sp *ServiceProvider) redirectQuery(param, b64Payload, relayState string) (string, error) {
	query := param + "=" + url.QueryEscape(b64Payload)
	if relayState != "" {
		query += "&RelayState=" + url.QueryEscape(relayState)
	}

	if !sp.cfg.Security.SignAuthnRequests {
		return query, nil
	}

	signingCtx, err := sp.signingContext()
	if err != nil {
		return "", err
	}

	query += "&SigAlg=" + url.QueryEscape(signingCtx.GetSignatureMethodIdentifier())

	rawSignature, err := signingCtx.SignString(query)
	if err != nil {
		return "", fmt.Errorf("unable to sign query string: %w", err)
	}

	query += "&Signature=" + url.QueryEscape(base64.StdEncoding.EncodeToString(rawSignature))

	return query, nil
}

func (sp *ServiceProvider) signingContext() (*dsig.SigningContext, error) {
	keyPair := sp.cfg.KeyPair()
	if keyPair == nil {
		return nil, fmt.Errorf("no keypair configured: %w", ErrInvalidParameter)
	}

	signingCtx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(*keyPair))
	if err := signingCtx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, err
	}

	return signingCtx, nil
}
