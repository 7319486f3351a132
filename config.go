package samlsp

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/jonboulle/clockwork"

	"github.com/samlx/samlsp/models/core"
)

// DefaultClockSkew is the tolerance applied when checking assertion condition
// windows.
const DefaultClockSkew = 60 * time.Second

// DefaultRequestIDExpiry bounds how long an issued request ID stays
// outstanding before a response referencing it is rejected.
const DefaultRequestIDExpiry = 10 * time.Minute

type ValidUntilFunc func() time.Time

type GenerateRequestIDFunc func() (string, error)

// SecurityPolicy holds the security flags applied when building requests and
// validating responses.
type SecurityPolicy struct {
	// SignAuthnRequests appends a detached signature (SigAlg/Signature query
	// parameters) to redirect-binding requests. Requires a private key.
	SignAuthnRequests bool

	// WantMessagesSigned requires at least one valid signature on the
	// response or its assertions, verified against the IdP certificates.
	WantMessagesSigned bool

	// WantNameIDSigned requires the subject NameID to be inside a signed
	// scope. Signatures are checked whenever this is set, with or without
	// WantMessagesSigned.
	WantNameIDSigned bool

	// RequestedAuthnContext lists the authentication context class
	// references requested from the IdP, compared exactly. Empty means the
	// request carries no RequestedAuthnContext element.
	RequestedAuthnContext []string

	// Strict rejects on the first validation finding. When false, findings
	// that are not critical are collected as warnings and validation
	// proceeds.
	Strict bool

	// ClockSkew is the tolerance for condition window checks. Zero means
	// DefaultClockSkew; a negative value disables the tolerance.
	ClockSkew time.Duration
}

// Skew returns the effective clock skew tolerance.
func (p SecurityPolicy) Skew() time.Duration {
	switch {
	case p.ClockSkew < 0:
		return 0
	case p.ClockSkew == 0:
		return DefaultClockSkew
	default:
		return p.ClockSkew
	}
}

// Config describes the service provider, the identity provider it trusts, and
// the security policy between them. It is immutable after a successful
// Validate; every field read during request handling is read-only.
type Config struct {
	// EntityID is a globally unique identifier of the service provider.
	// (required)
	EntityID *url.URL

	// AssertionConsumerServiceURL defines the endpoint at the SP where the
	// IDP will redirect to with its authentication response. (required)
	AssertionConsumerServiceURL *url.URL

	// SingleLogoutServiceURL defines the endpoint at the SP receiving logout
	// messages. (optional; required for single logout)
	SingleLogoutServiceURL *url.URL

	// NameIDFormat is the subject identifier format requested from the IdP.
	NameIDFormat core.NameIDFormat

	// Certificate and PrivateKey are the SP keypair, PEM encoded. Both or
	// neither must be set; the pairing is checked at validation time.
	Certificate string
	PrivateKey  string

	// IdPEntityID is a globally unique identifier of the identity provider.
	// (required)
	IdPEntityID string

	// IdPSSOURL is the IdP single sign-on endpoint for the redirect binding.
	// (required)
	IdPSSOURL *url.URL

	// IdPSLOURL is the IdP single logout endpoint. (optional)
	IdPSLOURL *url.URL

	// IdPCertificates holds one or more trusted IdP signing certificates,
	// PEM encoded. More than one supports key rollover; a signature is
	// accepted when any one of them verifies it.
	IdPCertificates []string

	// MetadataURL is the endpoint where the IdP serves its metadata XML
	// document. Only used for explicit configuration refresh, never during
	// login or response processing. (optional)
	MetadataURL *url.URL

	// PostLoginURL and PostLogoutURL are the local paths users land on when
	// no usable RelayState is present. Both default to "/".
	PostLoginURL  string
	PostLogoutURL string

	Security SecurityPolicy

	// ValidUntil defines until when generated service provider metadata is
	// valid.
	ValidUntil ValidUntilFunc

	// GenerateRequestID generates an xsd:ID conformant message ID.
	GenerateRequestID GenerateRequestIDFunc

	// Clock supplies the current time. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger receives structured detail for every failed transaction.
	// Defaults to a null logger.
	Logger hclog.Logger

	keyPair  *tls.Certificate
	idpCerts []*x509.Certificate
}

// NewConfig creates a Config with defaults applied and validates it.
func NewConfig(entityID, acs *url.URL, idpEntityID string, idpSSO *url.URL) (*Config, error) {
	const op = "samlsp.NewConfig"

	cfg := &Config{
		EntityID:                    entityID,
		AssertionConsumerServiceURL: acs,
		IdPEntityID:                 idpEntityID,
		IdPSSOURL:                   idpSSO,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}

	return cfg, nil
}

// GenerateRequestID generates an xsd:ID conformant message ID.
// A UUID prefixed with an underscore.
func GenerateRequestID() (string, error) {
	newID, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	// Message IDs have to be xsd:ID, which means they need to start with an
	// underscore or letter, which is not always given for UUIDs.
	return fmt.Sprintf("_%s", newID), nil
}

// DefaultValidUntil returns a metadata validity of one year from now.
func DefaultValidUntil() time.Time {
	return time.Now().Add(time.Hour * 24 * 365)
}

// Validate applies defaults and validates the provided configuration,
// including the SP certificate/key pairing and the IdP trust anchors.
func (c *Config) Validate() error {
	const op = "samlsp.Config.Validate"

	if c.EntityID == nil {
		return fmt.Errorf("%s: EntityID not set: %w", op, ErrInvalidParameter)
	}

	if c.AssertionConsumerServiceURL == nil {
		return fmt.Errorf("%s: ACS URL not set: %w", op, ErrInvalidParameter)
	}

	if c.IdPEntityID == "" {
		return fmt.Errorf("%s: IdP EntityID not set: %w", op, ErrInvalidParameter)
	}

	if c.IdPSSOURL == nil {
		return fmt.Errorf("%s: IdP SSO URL not set: %w", op, ErrInvalidParameter)
	}

	if c.ValidUntil == nil {
		c.ValidUntil = DefaultValidUntil
	}

	if c.GenerateRequestID == nil {
		c.GenerateRequestID = GenerateRequestID
	}

	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}

	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}

	if c.PostLoginURL == "" {
		c.PostLoginURL = "/"
	}

	if c.PostLogoutURL == "" {
		c.PostLogoutURL = "/"
	}

	if (c.Certificate == "") != (c.PrivateKey == "") {
		return fmt.Errorf(
			"%s: certificate and private key must both be set or both be empty: %w",
			op, ErrInvalidParameter,
		)
	}

	if c.Certificate != "" {
		keyPair, err := tls.X509KeyPair([]byte(c.Certificate), []byte(c.PrivateKey))
		if err != nil {
			return fmt.Errorf("%s: certificate does not pair with private key: %w (%w)",
				op, ErrInvalidTLSCert, err)
		}
		if keyPair.Leaf == nil && len(keyPair.Certificate) > 0 {
			keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
			if err != nil {
				return fmt.Errorf("%s: %w: %w", op, ErrInvalidTLSCert, err)
			}
		}
		c.keyPair = &keyPair
	}

	if c.Security.SignAuthnRequests && c.keyPair == nil {
		return fmt.Errorf(
			"%s: request signing requires a certificate and private key: %w",
			op, ErrInvalidParameter,
		)
	}

	c.idpCerts = c.idpCerts[:0]
	for i, certPEM := range c.IdPCertificates {
		cert, err := parsePEMCertificate([]byte(certPEM))
		if err != nil {
			return fmt.Errorf("%s: IdP certificate %d: %w", op, i, err)
		}
		c.idpCerts = append(c.idpCerts, cert)
	}

	if (c.Security.WantMessagesSigned || c.Security.WantNameIDSigned) && len(c.idpCerts) == 0 {
		return fmt.Errorf(
			"%s: signature validation requires at least one IdP certificate: %w",
			op, ErrInvalidParameter,
		)
	}

	return nil
}

// KeyPair returns the parsed SP keypair, or nil when none is configured.
func (c *Config) KeyPair() *tls.Certificate {
	return c.keyPair
}

// IdPCerts returns the parsed IdP trust anchors.
func (c *Config) IdPCerts() []*x509.Certificate {
	return c.idpCerts
}

func parsePEMCertificate(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no certificate PEM block found: %w", ErrInvalidTLSCert)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cannot parse certificate: %w", err)
	}

	return cert, nil
}
