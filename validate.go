package samlsp

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-multierror"

	"github.com/samlx/samlsp/models/core"
)

// ValidationRef carries everything Validate needs besides the response
// itself. It is read-only during validation; Validate never mutates the
// request ID store, so validating the same response twice yields the same
// result.
type ValidationRef struct {
	// Destination is the URL of the endpoint the response was received on.
	Destination string

	// Audience is the SP entity ID an audience restriction must include.
	Audience string

	Policy SecurityPolicy

	// Verifier checks enveloped signatures. Required when the policy wants
	// signed messages.
	Verifier SignatureVerifier

	// RequestIDs holds the currently outstanding request IDs. A response
	// carrying an InResponseTo that is not in this set is rejected.
	RequestIDs RequestIDStore

	// Now is the validation instant.
	Now time.Time
}

// ValidationResult reports the outcome of a successful validation.
type ValidationResult struct {
	// ValidatedResponse contains only content that passed signature
	// validation when signatures were checked; otherwise it is the parsed
	// response unchanged. Attribute extraction must read from it.
	ValidatedResponse *core.Response

	// ConsumableRequestID is the InResponseTo value the caller must consume
	// from the outstanding set once the transaction commits. Empty for
	// IdP-initiated responses.
	ConsumableRequestID string

	// ResponseSigned reports whether the response root carried a valid
	// signature. AssertionsSigned counts assertions with valid individual
	// signatures.
	ResponseSigned   bool
	AssertionsSigned int

	// Warnings holds non-critical findings collected in best-effort mode.
	Warnings []error
}

// Validate enforces the SAML security invariants on a parsed response:
// status, request correlation, destination, condition windows, audience
// restriction, signatures, and NameID signing scope, in that order.
//
// In strict mode the first finding is terminal. Otherwise destination, time
// window, and audience findings are collected as warnings, while status,
// correlation, and signature findings remain terminal either way.
func Validate(parsed *ParsedResponse, ref *ValidationRef) (*ValidationResult, error) {
	const op = "samlsp.Validate"

	if parsed == nil || parsed.Response == nil || parsed.Doc == nil {
		return nil, fmt.Errorf("%s: no parsed response provided: %w", op, ErrInvalidParameter)
	}
	if ref == nil {
		return nil, fmt.Errorf("%s: no validation ref provided: %w", op, ErrInvalidParameter)
	}

	response := parsed.Response
	result := &ValidationResult{ValidatedResponse: response}
	var soft *multierror.Error

	fail := func(err error) error {
		return fmt.Errorf("%s: %w", op, err)
	}

	// 1. Status must be Success.
	if !response.Status.Success() {
		return nil, fail(&IdpError{
			Status:  response.Status.StatusCode.Value,
			Message: response.Status.StatusMessage,
		})
	}

	// 2. InResponseTo, when present, must correlate with an outstanding
	// request ID.
	if inResponseTo := response.InResponseTo; inResponseTo != "" {
		if ref.RequestIDs == nil || !ref.RequestIDs.Has(inResponseTo) {
			return nil, fail(fmt.Errorf("InResponseTo %q: %w", inResponseTo, ErrReplayOrUnsolicited))
		}
		result.ConsumableRequestID = inResponseTo
	}

	// 3. Destination must name the endpoint the message arrived on.
	if response.Destination != ref.Destination {
		err := fmt.Errorf("destination %q, expected %q: %w",
			response.Destination, ref.Destination, ErrDestinationMismatch)
		if ref.Policy.Strict {
			return nil, fail(err)
		}
		soft = multierror.Append(soft, err)
	}

	if len(response.Assertion) == 0 {
		return nil, fail(ErrMissingAssertions)
	}

	skew := ref.Policy.Skew()
	for _, assertion := range response.Assertion {
		// 4. Condition windows must bracket now, with skew tolerance. The
		// upper bound is inclusive: a NotOnOrAfter equal to now is still
		// valid.
		if err := checkConditionWindow(assertion.Conditions, ref.Now, skew); err != nil {
			if ref.Policy.Strict {
				return nil, fail(err)
			}
			soft = multierror.Append(soft, err)
		}

		// 5. An audience restriction, when present, must include this SP.
		if err := checkAudience(assertion.Conditions, ref.Audience); err != nil {
			if ref.Policy.Strict {
				return nil, fail(err)
			}
			soft = multierror.Append(soft, err)
		}

		if assertion.Subject == nil || assertion.Subject.NameID == nil {
			return nil, fail(ErrMissingSubject)
		}
	}

	// 6./7. Signature policy. A NameID signing requirement implies signature
	// checking even when whole-message signing is not demanded, so neither
	// flag can silently degrade the other.
	if ref.Policy.WantMessagesSigned || ref.Policy.WantNameIDSigned {
		if ref.Verifier == nil {
			return nil, fail(fmt.Errorf("no signature verifier configured: %w", ErrInvalidParameter))
		}
		if err := validateSignatures(parsed, ref, result); err != nil {
			return nil, fail(err)
		}
	}

	result.Warnings = soft.WrappedErrors()

	return result, nil
}

func checkConditionWindow(c *core.Conditions, now time.Time, skew time.Duration) error {
	if c == nil {
		return nil
	}

	if !c.NotBefore.IsZero() && now.Before(c.NotBefore.Add(-skew)) {
		return fmt.Errorf("NotBefore %s: %w", c.NotBefore.Format(time.RFC3339), ErrAssertionNotYetValid)
	}

	if !c.NotOnOrAfter.IsZero() && now.After(c.NotOnOrAfter.Add(skew)) {
		return fmt.Errorf("NotOnOrAfter %s: %w", c.NotOnOrAfter.Format(time.RFC3339), ErrAssertionExpired)
	}

	return nil
}

// checkAudience enforces audience restrictions. Multiple AudienceRestriction
// elements must each be satisfied; within one element any matching audience
// value suffices.
// See 2.5.1.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
func checkAudience(c *core.Conditions, audience string) error {
	if c == nil {
		return nil
	}

	for _, restriction := range c.AudienceRestriction {
		found := false
		for _, a := range restriction.Audience {
			if a == audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("audience restriction %v does not include %q: %w",
				restriction.Audience, audience, ErrAudienceMismatch)
		}
	}

	return nil
}

// validateSignatures verifies the response root signature or, failing that,
// each assertion's individual signature, and replaces the validated response
// content with what the verifier returned. Only the rebuilt signed scope is
// trusted downstream, which is what defeats signature wrapping.
func validateSignatures(parsed *ParsedResponse, ref *ValidationRef, result *ValidationResult) error {
	root := parsed.Doc.Root()
	if root == nil {
		return ErrMalformedMessage
	}

	if elementHasSignature(root) {
		validated, err := ref.Verifier.Verify(root)
		if err != nil {
			return err
		}

		rebuilt, err := rebuildResponse(validated)
		if err != nil {
			return err
		}

		result.ResponseSigned = true
		result.ValidatedResponse = rebuilt

		return checkNameIDScope(ref.Policy, validated)
	}

	var validatedAssertions []*core.Assertion
	var validatedEls []*etree.Element
	for _, el := range childElements(root, "Assertion") {
		if !elementHasSignature(el) {
			continue
		}

		validated, err := ref.Verifier.Verify(el)
		if err != nil {
			return err
		}

		assertion, err := rebuildAssertion(validated)
		if err != nil {
			return err
		}

		validatedAssertions = append(validatedAssertions, assertion)
		validatedEls = append(validatedEls, validated)
	}

	if len(validatedAssertions) == 0 {
		return ErrSignatureMissing
	}

	rebuilt := *parsed.Response
	rebuilt.Assertion = validatedAssertions
	result.AssertionsSigned = len(validatedAssertions)
	result.ValidatedResponse = &rebuilt

	if ref.Policy.WantNameIDSigned {
		for _, el := range validatedEls {
			if containsElement(el, "NameID") {
				return nil
			}
		}
		return ErrNameIDUnsigned
	}

	return nil
}

func checkNameIDScope(policy SecurityPolicy, validated *etree.Element) error {
	if !policy.WantNameIDSigned {
		return nil
	}
	if !containsElement(validated, "NameID") {
		return ErrNameIDUnsigned
	}
	return nil
}

func rebuildResponse(el *etree.Element) (*core.Response, error) {
	raw, err := serializeElement(el)
	if err != nil {
		return nil, err
	}

	var response core.Response
	if err := xml.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return &response, nil
}

func rebuildAssertion(el *etree.Element) (*core.Assertion, error) {
	raw, err := serializeElement(el)
	if err != nil {
		return nil, err
	}

	var assertion core.Assertion
	if err := xml.Unmarshal(raw, &assertion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	return &assertion, nil
}

func serializeElement(el *etree.Element) ([]byte, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())

	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	return raw, nil
}
