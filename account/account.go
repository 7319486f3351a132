// Package account decides how an authenticated SAML subject maps onto a
// local account: link-first by unique ID, attribute query as fallback,
// creation or rejection when nothing matches. The package holds the policy
// only; persistence lives behind the Store interface.
package account

import "context"

// Account is a local account as the resolver sees it. Implementations wrap
// whatever record the store keeps; mutations happen in memory and are
// persisted by the store once the resolver reports the account dirty.
type Account interface {
	// ID returns the store-local account identifier.
	ID() string

	// IsBlocked reports whether the account is administratively blocked.
	// Blocked accounts never complete a login.
	IsBlocked() bool

	// Get returns the current value of a field, or the empty string.
	Get(field string) string

	// Set updates a field and reports whether the value actually changed.
	Set(field, value string) bool

	// Roles returns the account's role identifiers.
	Roles() []string

	// SetRoles replaces the role set and reports whether it changed.
	SetRoles(roles []string) bool
}

// Condition is one field comparison of an attribute query.
type Condition struct {
	Field string
	Value string
}

// Seed holds the initial state of an account about to be created.
type Seed struct {
	// UniqueID is the subject identifier the new account will be linked to.
	UniqueID string

	// Fields maps field identifiers to their initial values.
	Fields map[string]string

	// Roles is the initial role set.
	Roles []string
}

// Store is the persistence boundary of the resolution policy. Lookup
// methods return a nil Account without error when nothing matches.
type Store interface {
	// LookupByLink returns the account linked to the given unique subject
	// ID, if any.
	LookupByLink(ctx context.Context, uniqueID string) (Account, error)

	// Query returns every account matching the conditions, combined with
	// the given conjunction.
	Query(ctx context.Context, conditions []Condition, conj Conjunction) ([]Account, error)

	// SaveLink durably associates the unique subject ID with the account.
	SaveLink(ctx context.Context, uniqueID string, acct Account) error

	// Create persists a new account from the seed and returns it.
	Create(ctx context.Context, seed Seed) (Account, error)

	// Save persists in-memory mutations of an account.
	Save(ctx context.Context, acct Account) error

	// Fields lists the field identifiers this store understands. Mappings
	// are validated against it at configuration time.
	Fields() []string
}

// Decision classifies the outcome of a resolution.
type Decision int

const (
	// DecisionRejected means the login must not proceed; Outcome.Reason
	// says why.
	DecisionRejected Decision = iota

	// DecisionLinked means an existing account was found, by link or by
	// attribute query.
	DecisionLinked

	// DecisionCreated means a new account was created and linked.
	DecisionCreated
)

func (d Decision) String() string {
	switch d {
	case DecisionLinked:
		return "linked"
	case DecisionCreated:
		return "created"
	case DecisionRejected:
		return "rejected"
	}
	return "unknown"
}

// Outcome reports what the resolver decided and did.
type Outcome struct {
	Decision Decision

	// Account is the linked or created account. Nil when rejected.
	Account Account

	// Reason explains a rejection. It wraps one of this package's
	// sentinel errors.
	Reason error

	// Dirty reports whether attribute synchronization changed the account
	// after it was loaded. Creation does not count; a created account was
	// already persisted with its seed.
	Dirty bool
}

// Resolver maps an authenticated subject onto a local account.
type Resolver interface {
	Resolve(ctx context.Context, nameID string, attributes map[string][]string) (*Outcome, error)
}
