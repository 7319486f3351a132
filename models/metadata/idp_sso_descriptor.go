package metadata

import (
	"encoding/xml"

	"github.com/samlx/samlsp/models/core"
)

// IDPSSODescriptor contains profiles specific to identity providers supporting SSO.
// It extends the SSODescriptor type.
// See 2.4.3 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type IDPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`

	SSODescriptor

	WantAuthnRequestsSigned bool `xml:",attr"`
	SingleSignOnService     []Endpoint
	AttributeProfile        []string
	Attribute               []Attribute
}

// EntityDescriptorIDPSSO is an EntityDescriptor that accommodates the
// IDPSSODescriptor as descriptor field only.
type EntityDescriptorIDPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	IDPSSODescriptor []*IDPSSODescriptor
}

// GetLocationForBinding returns the single sign-on location for the given
// service binding, if the IdP advertises one.
func (e *EntityDescriptorIDPSSO) GetLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, ssos := range isd.SingleSignOnService {
			if ssos.Binding == b {
				return ssos.Location, true
			}
		}
	}

	return "", false
}

// GetLogoutLocationForBinding returns the single logout location for the given
// service binding, if the IdP advertises one.
func (e *EntityDescriptorIDPSSO) GetLogoutLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, slos := range isd.SingleLogoutService {
			if slos.Binding == b {
				return slos.Location, true
			}
		}
	}

	return "", false
}

// SigningCerts returns the base64 DER certificate values the IdP advertises
// for signature verification. Key descriptors without a use attribute count
// as signing keys.
func (e *EntityDescriptorIDPSSO) SigningCerts() []string {
	var certs []string
	for _, isd := range e.IDPSSODescriptor {
		for _, kd := range isd.KeyDescriptor {
			switch kd.Use {
			case "", KeyTypeSigning:
				for _, xcert := range kd.KeyInfo.X509Data.X509Certificates {
					certs = append(certs, xcert.Data)
				}
			}
		}
	}
	return certs
}
