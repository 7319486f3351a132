package samlsp

import (
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// SignatureVerifier validates an enveloped XML signature on the given
// element and returns the validated element. The returned element is the
// re-built signed scope; callers must trust only its contents, never the
// original document, to defeat signature wrapping.
//
// The interface exists so the validation policy in validate.go can be unit
// tested against a stub instead of real cryptographic material.
type SignatureVerifier interface {
	Verify(el *etree.Element) (*etree.Element, error)
}

type dsigVerifier struct {
	certStore dsig.X509CertificateStore
}

// NewSignatureVerifier creates a SignatureVerifier that accepts signatures
// verifiable by any one of the given certificates. Multiple certificates
// support IdP key rollover.
func NewSignatureVerifier(certs []*x509.Certificate) SignatureVerifier {
	return &dsigVerifier{
		certStore: &dsig.MemoryX509CertificateStore{
			Roots: certs,
		},
	}
}

func (v *dsigVerifier) Verify(el *etree.Element) (*etree.Element, error) {
	ctx := dsig.NewDefaultValidationContext(v.certStore)

	validated, err := ctx.Validate(el)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}

	return validated, nil
}

// elementHasSignature reports whether the element carries a direct
// ds:Signature child. Matching is on the local tag name; etree path queries
// are prefix-sensitive, which would miss prefixed documents.
func elementHasSignature(el *etree.Element) bool {
	for _, child := range el.ChildElements() {
		if child.Tag == "Signature" {
			return true
		}
	}
	return false
}

// childElements returns the direct children with the given local tag name.
func childElements(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// containsElement reports whether the subtree rooted at el contains an
// element with the given local tag name.
func containsElement(el *etree.Element, tag string) bool {
	if el.Tag == tag {
		return true
	}
	for _, child := range el.ChildElements() {
		if containsElement(child, tag) {
			return true
		}
	}
	return false
}
