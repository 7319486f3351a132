package core

import (
	"encoding/xml"
	"time"
)

type Response struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`

	StatusResponseType

	Assertion          []*Assertion
	EncryptedAssertion []*EncryptedAssertion
}

// LogoutResponse is the message sent in response to a LogoutRequest.
// See 3.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutResponse struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`

	StatusResponseType
}

// See 3.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusResponseType struct {
	RequestResponseCommon

	InResponseTo string `xml:",attr,omitempty"`

	Status Status
}

// See 3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Status struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`

	StatusCode    StatusCode // required
	StatusMessage string     `xml:"StatusMessage,omitempty"` // optional
}

// See 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`

	Value StatusCodeType `xml:",attr"` // required

	// A subordinate status code providing more specific information on the
	// error condition.
	StatusCode *StatusCode
}

// Success reports whether the top-level status code is the Success code.
func (s *Status) Success() bool {
	return s.StatusCode.Value == StatusCodeSuccess
}

// See 2.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Assertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`

	// attributes
	Version      string    `xml:",attr"` // required
	ID           string    `xml:",attr"` // required
	IssueInstant time.Time `xml:",attr"` // required

	Issuer *Issuer // required

	Subject            *Subject            // optional
	Conditions         *Conditions         // optional
	AuthnStatement     []*AuthnStatement   // optional
	AttributeStatement *AttributeStatement // optional
}

// EncryptedAssertion carries an assertion in encrypted form.
// See 2.3.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type EncryptedAssertion struct {
	EncryptedID
}

// Conditions limits the circumstances under which an assertion may be relied
// upon.
// See 2.5.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Conditions struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`

	NotBefore    time.Time `xml:",attr,omitempty"`
	NotOnOrAfter time.Time `xml:",attr,omitempty"`

	AudienceRestriction []*AudienceRestriction
	OneTimeUse          *OneTimeUse
}

// AudienceRestriction restricts an assertion's validity to one or more
// specific relying parties identified by their entity IDs.
// See 2.5.1.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AudienceRestriction struct {
	Audience []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion Audience"`
}

// See 2.5.1.5 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type OneTimeUse struct {
}

// AuthnStatement describes a statement by the SAML authority asserting that
// the assertion subject was authenticated by a particular means at a
// particular time.
// See 2.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`

	AuthnInstant        time.Time  `xml:",attr"` // required
	SessionIndex        string     `xml:",attr,omitempty"`
	SessionNotOnOrAfter *time.Time `xml:",attr,omitempty"`

	AuthnContext *AuthnContext // required
}

// See 2.7.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnContext struct {
	AuthnContextClassRef string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// AttributeStatement describes a statement by the SAML authority asserting
// that the assertion subject is associated with the specified attributes.
// See 2.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`

	Attribute []*Attribute
}

// See 2.7.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Attribute struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`

	Name         string     `xml:",attr"` // required
	NameFormat   NameFormat `xml:",attr,omitempty"`
	FriendlyName string     `xml:",attr,omitempty"`

	AttributeValue []AttributeValue
}

// See 2.7.3.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`

	Value string `xml:",chardata"`
}

func (r *Response) GetAssertion() *Assertion {
	if len(r.Assertion) == 0 {
		return nil
	}

	return r.Assertion[0]
}

// GetIssuer will return the issuer value from the Assertion.Issuer complex type.
func (a *Assertion) GetIssuer() string {
	if a.Issuer == nil {
		return ""
	}
	return a.Issuer.Value
}

// GetSubject will return the subject NameID value, or the empty string when
// the assertion carries no subject.
func (a *Assertion) GetSubject() string {
	if a.Subject == nil || a.Subject.NameID == nil {
		return ""
	}
	return a.Subject.NameID.Value
}

// GetSubjectFormat will return the subject NameID format.
func (a *Assertion) GetSubjectFormat() string {
	if a.Subject == nil || a.Subject.NameID == nil {
		return ""
	}
	return string(a.Subject.NameID.Format)
}

// GetSessionIndex returns the session index of the first authn statement, if
// any.
func (a *Assertion) GetSessionIndex() string {
	if len(a.AuthnStatement) == 0 {
		return ""
	}
	return a.AuthnStatement[0].SessionIndex
}
