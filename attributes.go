package samlsp

import (
	"fmt"
	"time"

	"github.com/samlx/samlsp/models/core"
)

// Identity is the normalized content of a validated assertion: who the
// subject is and what the IdP said about them.
type Identity struct {
	NameID       string
	NameIDFormat core.NameIDFormat

	SessionIndex string
	AuthnInstant time.Time
	AuthnContext string

	// Attributes maps attribute names to their ordered value lists. Values
	// are taken verbatim, never coerced. An attribute the IdP did not send
	// has no key; an attribute sent with an empty value has a key with an
	// empty string entry. Downstream policy relies on that distinction.
	Attributes map[string][]string
}

// Extract normalizes the first assertion of a validated response into an
// Identity. It must be called with the ValidatedResponse of a
// ValidationResult, never with unverified parse output.
func Extract(response *core.Response) (*Identity, error) {
	const op = "samlsp.Extract"

	assertion := response.GetAssertion()
	if assertion == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAssertions)
	}

	if assertion.Subject == nil || assertion.Subject.NameID == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingSubject)
	}

	identity := &Identity{
		NameID:       assertion.Subject.NameID.Value,
		NameIDFormat: assertion.Subject.NameID.Format,
		Attributes:   map[string][]string{},
	}

	if len(assertion.AuthnStatement) > 0 {
		stmt := assertion.AuthnStatement[0]
		identity.SessionIndex = stmt.SessionIndex
		identity.AuthnInstant = stmt.AuthnInstant
		if stmt.AuthnContext != nil {
			identity.AuthnContext = stmt.AuthnContext.AuthnContextClassRef
		}
	}

	if assertion.AttributeStatement == nil {
		return identity, nil
	}

	for _, attr := range assertion.AttributeStatement.Attribute {
		values := make([]string, 0, len(attr.AttributeValue))
		for _, v := range attr.AttributeValue {
			values = append(values, v.Value)
		}
		identity.Attributes[attr.Name] = values
	}

	return identity, nil
}
