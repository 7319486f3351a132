package core

import (
	"encoding/xml"
	"strings"
	"time"
)

// See 3.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusRequestType struct {
	RequestResponseCommon
}

// See 3.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`

	StatusRequestType

	Subject              *Subject
	NameIDPolicy         *NameIDPolicy
	Conditions           *Conditions
	RequestedAuthContext *RequestedAuthnContext
	Scoping              *Scoping

	ForceAuthn bool `xml:",attr"`
	IsPassive  bool `xml:",attr"`

	AssertionConsumerServiceIndex string `xml:",attr,omitempty"`
	AssertionConsumerServiceURL   string `xml:",attr"`

	// A URI reference that identifies a SAML protocol binding to be used when
	// returning the Response message.
	ProtocolBinding ServiceBinding `xml:",attr"`

	AttributeConsumingServiceIndex string `xml:",attr,omitempty"`
	ProviderName                   string `xml:",attr,omitempty"`
}

// LogoutRequest is a session participant's or session authority's request
// that a session be terminated.
// See 3.7.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`

	StatusRequestType

	// NotOnOrAfter is the time instant at which the request expires, after
	// which the recipient may discard the message.
	NotOnOrAfter *time.Time `xml:",attr,omitempty"`

	Reason string `xml:",attr,omitempty"`

	NameID       *NameID
	EncryptedID  *EncryptedID
	SessionIndex []string `xml:"SessionIndex"`
}

// Subject specifies the requested subject of the resulting assertion(s).
// If entirely omitted or if no identifier is included, the presenter of
// the message is presumed to be the requested subject.
//
// See 2.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Subject struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`

	BaseID              *BaseID
	NameID              *NameID
	EncryptedID         *EncryptedID
	SubjectConfirmation []*SubjectConfirmation
}

// See 2.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmation struct {
	Method ConfirmationMethod `xml:",attr"` // required

	SubjectConfirmationData *SubjectConfirmationData // optional

	BaseID      *BaseID      // optional
	NameID      *NameID      // optional
	EncryptedID *EncryptedID // optional
}

// See 2.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmationData struct {
	NotBefore    time.Time `xml:",attr,omitempty"` // optional
	NotOnOrAfter time.Time `xml:",attr,omitempty"` // optional
	Recipient    string    `xml:",attr,omitempty"` // optional
	InResponseTo string    `xml:",attr,omitempty"` // optional
	Address      string    `xml:",attr,omitempty"` // optional
}

// NameIDPolicy specifies constraints on the name identifier to be used to
// represent the requested subject.
// See 3.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDPolicy struct {
	Format          NameIDFormat `xml:",attr,omitempty"`
	SPNameQualifier string       `xml:",attr,omitempty"`
	AllowCreate     bool         `xml:",attr"`
}

// Comparison describes how the given RequestedAuthnContext class references
// are to be evaluated by the identity provider.
// See 3.3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Comparison string

const (
	ComparisonExact   Comparison = "exact"
	ComparisonMinimum Comparison = "minimum"
	ComparisonMaximum Comparison = "maximum"
	ComparisonBetter  Comparison = "better"
)

// RequestedAuthnContext specifies the authentication context requirements of
// authentication statements returned in response to a request.
// See 3.3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type RequestedAuthnContext struct {
	Comparison Comparison `xml:",attr,omitempty"`

	AuthnContextClassRef []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// Scoping specifies the identity providers trusted by the requester to
// authenticate the presenter.
// See 3.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Scoping struct {
	ProxyCount int `xml:",attr"`

	IDPList *IDPList

	RequesterID []string
}

// IDPList specifies the identity providers trusted by the requester to
// authenticate the presenter.
// See 3.4.1.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPList struct {
	IDPEntry    []*IDPEntry
	GetComplete []string
}

// IDPEntry specifies a single identity provider trusted by the requester to
// authenticate the presenter.
// See 3.4.1.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPEntry struct {
	// ProviderID is the unique identifier of the identity provider.
	ProviderID string `xml:",attr"`

	// Name is a human-readable name for the identity provider.
	Name string

	// Loc is a URI reference representing the location of a profile-specific
	// endpoint supporting the authentication request protocol.
	Loc string
}

// CreateXMLDocument creates an AuthnRequest XML document, indented with the
// given number of spaces.
func (a *AuthnRequest) CreateXMLDocument(indent int) ([]byte, error) {
	return xml.MarshalIndent(a, "", strings.Repeat(" ", indent))
}

// CreateXMLDocument creates a LogoutRequest XML document, indented with the
// given number of spaces.
func (r *LogoutRequest) CreateXMLDocument(indent int) ([]byte, error) {
	return xml.MarshalIndent(r, "", strings.Repeat(" ", indent))
}
