package metadata

import "encoding/xml"

// EntityDescriptorSPSSO defines an EntityDescriptor type
// that can accommodate an SPSSODescriptor.
// This type can be used specifically to describe SPSSO profiles.
type EntityDescriptorSPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	SPSSODescriptor []*SPSSODescriptor
}

// SPSSODescriptor contains profiles specific to service providers.
// It extends the SSODescriptor type.
// See 2.4.4 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type SPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`

	SSODescriptor

	AuthnRequestsSigned       bool `xml:",attr"`
	WantAssertionsSigned      bool `xml:",attr"`
	AssertionConsumerService  []IndexedEndpoint
	AttributeConsumingService []*AttributeConsumingService
	Attribute                 []Attribute
}

// AttributeConsumingService describes a service offered by the service
// provider that requires particular SAML attributes.
// See 2.4.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type AttributeConsumingService struct {
	Index              int  `xml:",attr"`
	IsDefault          bool `xml:"isDefault,attr"`
	ServiceName        []Localized
	ServiceDescription []Localized
	RequestedAttribute []RequestedAttribute
}

// RequestedAttribute specifies a service provider's interest in a specific
// SAML attribute, including specific values.
// See 2.4.4.2 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type RequestedAttribute struct {
	Attribute
	IsRequired bool `xml:"isRequired,attr"`
}

// Attribute mirrors the assertion schema attribute type for use in metadata
// documents.
type Attribute struct {
	FriendlyName   string `xml:",attr,omitempty"`
	Name           string `xml:",attr"`
	NameFormat     string `xml:",attr,omitempty"`
	AttributeValue []AttributeValue
}

type AttributeValue struct {
	Type  string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr,omitempty"`
	Value string `xml:",chardata"`
}
