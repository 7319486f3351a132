// Package testprovider is an in-process identity provider for tests. It
// serves metadata over HTTP and mints signed SAML responses with a
// throwaway keypair, so validator tests can exercise real signatures
// without fixtures.
package testprovider

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
)

const (
	EntityID = "http://test.idp"

	ssoPath = "/saml/login/redirect"
	sloPath = "/saml/logout/redirect"
)

// TestProvider is a minimal IdP: one signing keypair, metadata over HTTP,
// and response minting helpers.
type TestProvider struct {
	t      *testing.T
	server *httptest.Server

	keyPair tls.Certificate
	certDER []byte
}

// ResponseParams controls a minted response. Zero values produce a valid,
// response-signed message for the given SP.
type ResponseParams struct {
	InResponseTo string
	Destination  string
	Audience     string

	NameID       string
	NameIDFormat string
	SessionIndex string

	Attributes map[string][]string

	// StatusCode overrides the Success status.
	StatusCode string

	NotBefore    time.Time
	NotOnOrAfter time.Time

	// SignAssertion signs the assertion element instead of the response
	// root. Unsigned leaves the message entirely unsigned.
	SignAssertion bool
	Unsigned      bool
}

// StartTestProvider generates a keypair and starts the metadata server. The
// server is closed via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	r := require.New(t)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	r.NoError(err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test.idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	r.NoError(err)

	leaf, err := x509.ParseCertificate(certDER)
	r.NoError(err)

	provider := &TestProvider{
		t: t,
		keyPair: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		certDER: certDER,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/metadata", provider.metadataHandler)

	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.server.Close)

	return provider
}

// ServerURL returns the base URL of the metadata server.
func (p *TestProvider) ServerURL() string {
	return p.server.URL
}

// MetadataURL returns the IdP metadata endpoint.
func (p *TestProvider) MetadataURL() string {
	return p.server.URL + "/saml/metadata"
}

// SSOURL returns the single sign-on location advertised in the metadata.
func (p *TestProvider) SSOURL() string {
	return p.server.URL + ssoPath
}

// SLOURL returns the single logout location advertised in the metadata.
func (p *TestProvider) SLOURL() string {
	return p.server.URL + sloPath
}

// CertificatePEM returns the IdP signing certificate, PEM encoded, ready
// for a Config's IdPCertificates.
func (p *TestProvider) CertificatePEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.certDER}))
}

// Certificate returns the parsed signing certificate.
func (p *TestProvider) Certificate() *x509.Certificate {
	return p.keyPair.Leaf
}

func (p *TestProvider) metadataHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	fmt.Fprintf(w, `<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data>
          <ds:X509Certificate>%s</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:2.0:nameid-format:persistent</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%s"/>
    <md:SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%s"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>`,
		EntityID,
		base64.StdEncoding.EncodeToString(p.certDER),
		p.SSOURL(),
		p.SLOURL(),
	)
}

// SignedResponse mints a response per the params and returns it base64
// encoded, as a POST binding delivers it.
func (p *TestProvider) SignedResponse(t *testing.T, params ResponseParams) string {
	t.Helper()

	return base64.StdEncoding.EncodeToString(p.ResponseXML(t, params))
}

// ResponseXML mints the raw response document.
func (p *TestProvider) ResponseXML(t *testing.T, params ResponseParams) []byte {
	t.Helper()
	r := require.New(t)

	now := time.Now().UTC()
	if params.NameID == "" {
		params.NameID = "tester@example.com"
	}
	if params.NameIDFormat == "" {
		params.NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	}
	if params.StatusCode == "" {
		params.StatusCode = "urn:oasis:names:tc:SAML:2.0:status:Success"
	}
	if params.NotBefore.IsZero() {
		params.NotBefore = now.Add(-time.Minute)
	}
	if params.NotOnOrAfter.IsZero() {
		params.NotOnOrAfter = now.Add(5 * time.Minute)
	}

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	response.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	response.CreateAttr("ID", newID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	if params.Destination != "" {
		response.CreateAttr("Destination", params.Destination)
	}
	if params.InResponseTo != "" {
		response.CreateAttr("InResponseTo", params.InResponseTo)
	}

	response.CreateElement("saml:Issuer").SetText(EntityID)

	status := response.CreateElement("samlp:Status")
	status.CreateElement("samlp:StatusCode").CreateAttr("Value", params.StatusCode)

	assertion := response.CreateElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", now.Format(time.RFC3339))

	assertion.CreateElement("saml:Issuer").SetText(EntityID)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", params.NameIDFormat)
	nameID.SetText(params.NameID)

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", params.NotBefore.UTC().Format(time.RFC3339))
	conditions.CreateAttr("NotOnOrAfter", params.NotOnOrAfter.UTC().Format(time.RFC3339))
	if params.Audience != "" {
		conditions.CreateElement("saml:AudienceRestriction").
			CreateElement("saml:Audience").SetText(params.Audience)
	}

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", now.Format(time.RFC3339))
	if params.SessionIndex != "" {
		authnStatement.CreateAttr("SessionIndex", params.SessionIndex)
	}
	authnStatement.CreateElement("saml:AuthnContext").
		CreateElement("saml:AuthnContextClassRef").
		SetText("urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport")

	if len(params.Attributes) > 0 {
		attrStatement := assertion.CreateElement("saml:AttributeStatement")
		for name, values := range params.Attributes {
			attr := attrStatement.CreateElement("saml:Attribute")
			attr.CreateAttr("Name", name)
			for _, v := range values {
				attr.CreateElement("saml:AttributeValue").SetText(v)
			}
		}
	}

	doc := etree.NewDocument()

	switch {
	case params.Unsigned:
		doc.SetRoot(response)
	case params.SignAssertion:
		signed := p.sign(r, assertion)
		response.RemoveChild(assertion)
		response.AddChild(signed)
		doc.SetRoot(response)
	default:
		doc.SetRoot(p.sign(r, response))
	}

	raw, err := doc.WriteToBytes()
	r.NoError(err)

	return raw
}

// LogoutParams controls a minted single-logout message. Zero values produce
// a valid signed message from this IdP.
type LogoutParams struct {
	InResponseTo string
	Destination  string

	// NameID names the subject on a LogoutRequest.
	NameID       string
	SessionIndex string

	// Issuer overrides the IdP entity ID.
	Issuer string

	// StatusCode overrides the Success status on a LogoutResponse.
	StatusCode string

	Unsigned bool
}

// SignedLogoutResponse mints a LogoutResponse per the params and returns it
// base64 encoded.
func (p *TestProvider) SignedLogoutResponse(t *testing.T, params LogoutParams) string {
	t.Helper()

	return base64.StdEncoding.EncodeToString(p.logoutXML(t, "samlp:LogoutResponse", params))
}

// SignedLogoutRequest mints an IdP-initiated LogoutRequest per the params
// and returns it base64 encoded.
func (p *TestProvider) SignedLogoutRequest(t *testing.T, params LogoutParams) string {
	t.Helper()

	return base64.StdEncoding.EncodeToString(p.logoutXML(t, "samlp:LogoutRequest", params))
}

func (p *TestProvider) logoutXML(t *testing.T, tag string, params LogoutParams) []byte {
	t.Helper()
	r := require.New(t)

	now := time.Now().UTC()
	if params.Issuer == "" {
		params.Issuer = EntityID
	}
	if params.StatusCode == "" {
		params.StatusCode = "urn:oasis:names:tc:SAML:2.0:status:Success"
	}

	msg := etree.NewElement(tag)
	msg.CreateAttr("xmlns:samlp", "urn:oasis:names:tc:SAML:2.0:protocol")
	msg.CreateAttr("xmlns:saml", "urn:oasis:names:tc:SAML:2.0:assertion")
	msg.CreateAttr("ID", newID())
	msg.CreateAttr("Version", "2.0")
	msg.CreateAttr("IssueInstant", now.Format(time.RFC3339))
	if params.Destination != "" {
		msg.CreateAttr("Destination", params.Destination)
	}
	if params.InResponseTo != "" {
		msg.CreateAttr("InResponseTo", params.InResponseTo)
	}

	msg.CreateElement("saml:Issuer").SetText(params.Issuer)

	if tag == "samlp:LogoutRequest" {
		nameID := msg.CreateElement("saml:NameID")
		nameID.CreateAttr("Format", "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent")
		nameID.SetText(params.NameID)
		if params.SessionIndex != "" {
			msg.CreateElement("samlp:SessionIndex").SetText(params.SessionIndex)
		}
	} else {
		msg.CreateElement("samlp:Status").
			CreateElement("samlp:StatusCode").CreateAttr("Value", params.StatusCode)
	}

	doc := etree.NewDocument()
	if params.Unsigned {
		doc.SetRoot(msg)
	} else {
		doc.SetRoot(p.sign(r, msg))
	}

	raw, err := doc.WriteToBytes()
	r.NoError(err)

	return raw
}

func (p *TestProvider) sign(r *require.Assertions, el *etree.Element) *etree.Element {
	signingCtx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(p.keyPair))
	err := signingCtx.SetSignatureMethod(dsig.RSASHA256SignatureMethod)
	r.NoError(err)

	signed, err := signingCtx.SignEnveloped(el)
	r.NoError(err)

	return signed
}

var idCounter int

func newID() string {
	idCounter++
	return fmt.Sprintf("_test-id-%d-%d", time.Now().UnixNano(), idCounter)
}
