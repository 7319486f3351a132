package account

import "fmt"

// Conjunction selects how multiple attribute-query conditions combine.
type Conjunction string

const (
	// ConjunctionAnd requires every condition to match. It is the default
	// and the safer choice: a partial attribute overlap never links.
	ConjunctionAnd Conjunction = "AND"

	// ConjunctionOr links on any single matching condition.
	ConjunctionOr Conjunction = "OR"
)

// FieldMapping describes how one account field is fed from the assertion.
type FieldMapping struct {
	// Attribute is the SAML attribute name whose first value feeds the
	// field.
	Attribute string

	// UseForLinking includes the field in the attribute query that runs
	// when no account is linked to the subject yet.
	UseForLinking bool
}

// AttributeMap maps account field identifiers to their attribute sources.
type AttributeMap map[string]FieldMapping

// Config is the account resolution policy.
type Config struct {
	// Map feeds account fields from assertion attributes, both for linking
	// queries and for synchronization on every login.
	Map AttributeMap

	// Conjunction combines the linking conditions. Defaults to AND.
	Conjunction Conjunction

	// CreateUsers allows creating an account when neither the link nor the
	// attribute query finds one. When false such logins are rejected.
	CreateUsers bool

	// RolesAttribute names the attribute whose values become the account's
	// role set on every login, replacing whatever was there. Empty leaves
	// existing roles alone.
	RolesAttribute string

	// AlwaysAssignRoles are granted on every login regardless of what the
	// IdP sends. They are unioned into the role set, never removed by it.
	AlwaysAssignRoles []string

	// RequireForCreation lists fields that must receive a non-empty value
	// before an account may be created. A creation missing one is
	// rejected.
	RequireForCreation []string
}

// Validate checks the policy against the fields the store understands, so a
// typo in a mapping surfaces at startup instead of silently never matching.
func (c *Config) Validate(storeFields []string) error {
	const op = "account.Config.Validate"

	known := make(map[string]struct{}, len(storeFields))
	for _, f := range storeFields {
		known[f] = struct{}{}
	}

	for field, mapping := range c.Map {
		if _, ok := known[field]; !ok {
			return fmt.Errorf("%s: field %q: %w", op, field, ErrUnknownField)
		}
		if mapping.Attribute == "" {
			return fmt.Errorf("%s: field %q has no source attribute: %w",
				op, field, ErrInvalidParameter)
		}
	}

	for _, field := range c.RequireForCreation {
		if _, ok := known[field]; !ok {
			return fmt.Errorf("%s: required field %q: %w", op, field, ErrUnknownField)
		}
	}

	switch c.Conjunction {
	case "", ConjunctionAnd, ConjunctionOr:
	default:
		return fmt.Errorf("%s: conjunction %q: %w", op, c.Conjunction, ErrInvalidParameter)
	}

	return nil
}

// conjunction returns the effective conjunction.
func (c *Config) conjunction() Conjunction {
	if c.Conjunction == "" {
		return ConjunctionAnd
	}
	return c.Conjunction
}
