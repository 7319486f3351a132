package samlsp

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/beevik/etree"

	"github.com/samlx/samlsp/models/core"
)

// CreateLogoutRequest creates a LogoutRequest addressed to the IdP single
// logout endpoint for the given subject.
func (sp *ServiceProvider) CreateLogoutRequest(
	nameID string, sessionIndex string, opt ...Option,
) (*core.LogoutRequest, error) {
	const op = "samlsp.ServiceProvider.CreateLogoutRequest"

	if nameID == "" {
		return nil, fmt.Errorf("%s: no NameID provided: %w", op, ErrInvalidParameter)
	}

	if sp.cfg.IdPSLOURL == nil {
		return nil, fmt.Errorf("%s: no IdP SLO endpoint configured: %w", op, ErrBindingUnsupported)
	}

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	opts := getAuthnRequestOptions(opt...)

	lr := &core.LogoutRequest{}
	lr.ID = requestID
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = opts.clock.Now().UTC()
	lr.Destination = sp.cfg.IdPSLOURL.String()
	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = sp.cfg.EntityID.String()
	lr.NameID = &core.NameID{
		Value:  nameID,
		Format: sp.cfg.NameIDFormat,
	}
	if sessionIndex != "" {
		lr.SessionIndex = []string{sessionIndex}
	}

	return lr, nil
}

// CreateLogoutResponse creates a LogoutResponse answering the IdP-initiated
// LogoutRequest with the given ID.
func (sp *ServiceProvider) CreateLogoutResponse(
	inResponseTo string, status core.StatusCodeType, opt ...Option,
) (*core.LogoutResponse, error) {
	const op = "samlsp.ServiceProvider.CreateLogoutResponse"

	if sp.cfg.IdPSLOURL == nil {
		return nil, fmt.Errorf("%s: no IdP SLO endpoint configured: %w", op, ErrBindingUnsupported)
	}

	responseID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate response ID: %w", op, err)
	}

	opts := getAuthnRequestOptions(opt...)

	lr := &core.LogoutResponse{}
	lr.ID = responseID
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = opts.clock.Now().UTC()
	lr.Destination = sp.cfg.IdPSLOURL.String()
	lr.InResponseTo = inResponseTo
	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = sp.cfg.EntityID.String()
	lr.Status = core.Status{
		StatusCode: core.StatusCode{Value: status},
	}

	return lr, nil
}

// LogoutResponseRedirect creates the IdP SLO URL carrying a LogoutResponse
// with the HTTP redirect binding.
func (sp *ServiceProvider) LogoutResponseRedirect(
	inResponseTo string, relayState string, opt ...Option,
) (*url.URL, error) {
	const op = "samlsp.ServiceProvider.LogoutResponseRedirect"

	logoutRes, err := sp.CreateLogoutResponse(inResponseTo, core.StatusCodeSuccess, opt...)
	if err != nil {
		return nil, err
	}

	redirect, err := sp.redirectURL(logoutRes, logoutRes.Destination, relayState, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return redirect, nil
}

// ParsedLogoutResponse is the decoded form of a LogoutResponse received on
// the single logout endpoint. Raw and Doc hold the decoded XML, which
// signature validation operates on; Response is the unmarshalled protocol
// message.
type ParsedLogoutResponse struct {
	Raw      []byte
	Doc      *etree.Document
	Response *core.LogoutResponse
}

// ParseLogoutResponse decodes and parses a LogoutResponse received on the
// single logout endpoint.
func ParseLogoutResponse(raw string) (*ParsedLogoutResponse, error) {
	const op = "samlsp.ParseLogoutResponse"

	xmlBytes, err := decodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	var res core.LogoutResponse
	if err := xml.Unmarshal(xmlBytes, &res); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	return &ParsedLogoutResponse{
		Raw:      xmlBytes,
		Doc:      doc,
		Response: &res,
	}, nil
}

// ParsedLogoutRequest is the decoded form of an IdP-initiated LogoutRequest
// received on the single logout endpoint.
type ParsedLogoutRequest struct {
	Raw     []byte
	Doc     *etree.Document
	Request *core.LogoutRequest
}

// ParseLogoutRequest decodes and parses an IdP-initiated LogoutRequest
// received on the single logout endpoint.
func ParseLogoutRequest(raw string) (*ParsedLogoutRequest, error) {
	const op = "samlsp.ParseLogoutRequest"

	xmlBytes, err := decodeMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	var req core.LogoutRequest
	if err := xml.Unmarshal(xmlBytes, &req); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedMessage, err)
	}

	return &ParsedLogoutRequest{
		Raw:     xmlBytes,
		Doc:     doc,
		Request: &req,
	}, nil
}

// verifyLogoutSignature enforces the message signing policy on an inbound
// single-logout message. With signing required it returns the validated
// element, and only content rebuilt from it may be trusted. Without the
// requirement it returns nil and the caller uses the message as parsed.
func (sp *ServiceProvider) verifyLogoutSignature(doc *etree.Document) (*etree.Element, error) {
	if !sp.cfg.Security.WantMessagesSigned {
		return nil, nil
	}
	if sp.verifier == nil {
		return nil, fmt.Errorf("no signature verifier configured: %w", ErrInvalidParameter)
	}

	root := doc.Root()
	if root == nil {
		return nil, ErrMalformedMessage
	}
	if !elementHasSignature(root) {
		return nil, ErrSignatureMissing
	}

	return sp.verifier.Verify(root)
}

// checkLogoutEnvelope enforces issuer and destination on an inbound
// single-logout message. The issuer must be the configured IdP; a
// destination, when present, must name this SP's single logout endpoint.
func (sp *ServiceProvider) checkLogoutEnvelope(issuer *core.Issuer, destination string) error {
	got := ""
	if issuer != nil {
		got = issuer.Value
	}
	if got != sp.cfg.IdPEntityID {
		return fmt.Errorf("issuer %q, expected %q: %w", got, sp.cfg.IdPEntityID, ErrIssuerMismatch)
	}

	if destination != "" {
		expected := ""
		if sp.cfg.SingleLogoutServiceURL != nil {
			expected = sp.cfg.SingleLogoutServiceURL.String()
		}
		if destination != expected {
			return fmt.Errorf("destination %q, expected %q: %w",
				destination, expected, ErrDestinationMismatch)
		}
	}

	return nil
}

func rebuildLogoutResponse(el *etree.Element) (*core.LogoutResponse, error) {
	raw, err := serializeElement(el)
	if err != nil {
		return nil, err
	}

	var res core.LogoutResponse
	if err := xml.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return &res, nil
}

func rebuildLogoutRequest(el *etree.Element) (*core.LogoutRequest, error) {
	raw, err := serializeElement(el)
	if err != nil {
		return nil, err
	}

	var req core.LogoutRequest
	if err := xml.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return &req, nil
}
