package samlsp

import (
	"errors"
	"fmt"

	"github.com/samlx/samlsp/models/core"
)

var (
	ErrInternal           = errors.New("internal error")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrBindingUnsupported = errors.New("configured binding unsupported by the IDP")
	ErrInvalidTLSCert     = errors.New("invalid tls certificate")

	// ErrMalformedMessage covers every decode failure on an inbound message:
	// bad base64, bad compression, XML that does not survive a round trip, or
	// XML that does not parse into the expected protocol type.
	ErrMalformedMessage = errors.New("malformed SAML message")

	// ErrIdpReported indicates the IDP returned a non-Success status code.
	ErrIdpReported = errors.New("IDP reported an unsuccessful status")

	// ErrReplayOrUnsolicited indicates the InResponseTo value does not match
	// any outstanding request ID, either because the response is unsolicited
	// or because the ID was already consumed.
	ErrReplayOrUnsolicited = errors.New("response does not correspond to an outstanding request")

	ErrDestinationMismatch  = errors.New("destination does not match the service endpoint")
	ErrIssuerMismatch       = errors.New("issuer does not match the configured identity provider")
	ErrAssertionExpired     = errors.New("assertion is no longer valid")
	ErrAssertionNotYetValid = errors.New("assertion is not yet valid")
	ErrAudienceMismatch     = errors.New("audience restriction does not include this service provider")
	ErrSignatureInvalid     = errors.New("signature validation failed")
	ErrSignatureMissing     = errors.New("required signature is missing")
	ErrNameIDUnsigned       = errors.New("name ID is outside any signed scope")
	ErrMissingAssertions    = errors.New("missing assertions")
	ErrMissingSubject       = errors.New("subject missing")

	// ErrExternalDestinationRejected indicates a user-supplied destination was
	// not a same-origin relative path.
	ErrExternalDestinationRejected = errors.New("external destination rejected")

	ErrInvalidMetadata = errors.New("invalid metadata")
)

// IdpError carries the status code and optional status message of an
// unsuccessful SAML response. It matches ErrIdpReported via errors.Is.
type IdpError struct {
	Status  core.StatusCodeType
	Message string
}

func (e *IdpError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", ErrIdpReported, e.Status)
	}
	return fmt.Sprintf("%s: %s (%s)", ErrIdpReported, e.Status, e.Message)
}

func (e *IdpError) Unwrap() error {
	return ErrIdpReported
}
