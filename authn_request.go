package samlsp

import (
	"bytes"
	"compress/flate"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/samlx/samlsp/models/core"
)

type authnRequestOptions struct {
	clock                       clockwork.Clock
	allowCreate                 bool
	nameIDFormat                core.NameIDFormat
	forceAuthn                  bool
	isPassive                   bool
	protocolBinding             core.ServiceBinding
	authnContextClassRefs       []string
	indent                      int
	assertionConsumerServiceURL string
}

func authnRequestOptionsDefault() authnRequestOptions {
	return authnRequestOptions{
		allowCreate:     false,
		clock:           clockwork.NewRealClock(),
		nameIDFormat:    core.NameIDFormat(""),
		forceAuthn:      false,
		protocolBinding: core.ServiceBindingHTTPPost,
	}
}

func getAuthnRequestOptions(opt ...Option) authnRequestOptions {
	opts := authnRequestOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// AllowCreate is a Boolean value used to indicate whether the identity
// provider is allowed, in the course of fulfilling the request, to create a
// new identifier to represent the principal.
func AllowCreate() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.allowCreate = true
		}
	}
}

// WithNameIDFormat will set a NameIDPolicy object with the given
// NameIDFormat. It implies AllowCreate=true.
func WithNameIDFormat(f core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.nameIDFormat = f
			o.allowCreate = true
		}
	}
}

// ForceAuthn is a boolean value that tells the identity provider it MUST
// authenticate the presenter directly rather than rely on a previous security
// context.
func ForceAuthn() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.forceAuthn = true
		}
	}
}

// IsPassive tells the identity provider it MUST NOT visibly take control of
// the user interface.
func IsPassive() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.isPassive = true
		}
	}
}

// WithProtocolBinding defines the ProtocolBinding to be used. It defaults to
// HTTP-Post. The ProtocolBinding is a URI reference that identifies a SAML
// protocol binding to be used when returning the <Response> message.
func WithProtocolBinding(binding core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.protocolBinding = binding
		}
	}
}

// WithAuthContextClassRefs defines AuthnContextClassRefs.
// An AuthnContextClassRef specifies the requirements, if any, that the
// requester places on the authentication context that applies to the
// responding provider's authentication of the presenter.
func WithAuthContextClassRefs(cfs []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.authnContextClassRefs = cfs
		}
	}
}

// WithIndent indent the XML document when marshalling it.
func WithIndent(indent int) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.indent = indent
		}
	}
}

// WithClock changes the clock used when generating requests.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.clock = clock
		}
	}
}

// WithAssertionConsumerServiceURL changes the Assertion Consumer Service URL
// to use in the Auth Request.
func WithAssertionConsumerServiceURL(url string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.assertionConsumerServiceURL = url
		}
	}
}

// CreateAuthnRequest creates an Authentication Request object.
// The defaults follow the deployment profile for federation interoperability.
// See: 3.1.1 https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_service_provider_requirements [INT_SAML]
//
// Options:
// - WithClock
// - ForceAuthn
// - IsPassive
// - AllowCreate
// - WithNameIDFormat
// - WithProtocolBinding
// - WithAuthContextClassRefs
// - WithAssertionConsumerServiceURL
func (sp *ServiceProvider) CreateAuthnRequest(
	id string,
	opt ...Option,
) (*core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.CreateAuthnRequest"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}

	opts := getAuthnRequestOptions(opt...)

	ar := &core.AuthnRequest{}

	ar.ID = id
	ar.Version = core.SAMLVersion2
	ar.ProtocolBinding = opts.protocolBinding

	// [INT_SAML][SDP-SP05][SDP-SP06]
	// "The message SHOULD contain an AssertionConsumerServiceURL attribute and
	// MUST NOT contain an AssertionConsumerServiceIndex attribute (i.e., the
	// desired endpoint MUST be the default, or identified via the
	// AssertionConsumerServiceURL attribute)."
	ar.AssertionConsumerServiceURL = sp.cfg.AssertionConsumerServiceURL.String()
	if opts.assertionConsumerServiceURL != "" {
		ar.AssertionConsumerServiceURL = opts.assertionConsumerServiceURL
	}

	ar.IssueInstant = opts.clock.Now().UTC()
	ar.Destination = sp.cfg.IdPSSOURL.String()

	ar.Issuer = &core.Issuer{}
	ar.Issuer.Value = sp.cfg.EntityID.String()

	// [INT_SAML][SDP-SP04]
	// "The <samlp:AuthnRequest> message MUST either omit the
	// <samlp:NameIDPolicy> element (RECOMMENDED), or the element MUST contain
	// an AllowCreate attribute of "true" and MUST NOT contain a Format
	// attribute."
	nameIDFormat := opts.nameIDFormat
	if nameIDFormat == "" {
		nameIDFormat = sp.cfg.NameIDFormat
	}
	if opts.allowCreate || nameIDFormat != "" {
		ar.NameIDPolicy = &core.NameIDPolicy{
			AllowCreate: opts.allowCreate,
			Format:      nameIDFormat,
		}
	}

	// [INT_SAML][SDP-SP07]
	// "An SP that requires specific <saml:AuthnContextClassRef> values MUST
	// specify the allowable values in a <samlp:RequestedAuthnContext> element
	// in its requests, with the Comparison attribute set to exact."
	classRefs := opts.authnContextClassRefs
	if len(classRefs) == 0 {
		classRefs = sp.cfg.Security.RequestedAuthnContext
	}
	if len(classRefs) > 0 {
		ar.RequestedAuthContext = &core.RequestedAuthnContext{
			AuthnContextClassRef: classRefs,
			Comparison:           core.ComparisonExact,
		}
	}

	ar.ForceAuthn = opts.forceAuthn
	ar.IsPassive = opts.isPassive

	return ar, nil
}

// Deflate serializes the given protocol message and compresses it with raw
// DEFLATE (no zlib header), as required by the HTTP redirect binding.
func Deflate(message interface{}, opt ...Option) ([]byte, error) {
	buf := bytes.Buffer{}
	opts := getAuthnRequestOptions(opt...)

	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	defer fw.Close()

	encoder := xml.NewEncoder(fw)
	encoder.Indent("", strings.Repeat(" ", opts.indent))
	err = encoder.Encode(message)
	if err != nil {
		return nil, err
	}

	if err := fw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
