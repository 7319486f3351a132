package account

import "errors"

var (
	// ErrEmptyNameID rejects a login whose subject identifier is empty. An
	// empty unique ID would alias every other empty ID.
	ErrEmptyNameID = errors.New("empty NameID cannot identify an account")

	// ErrAmbiguousLinkCandidates rejects a login whose attribute query
	// matched more than one local account. The resolver never guesses;
	// an administrator has to untangle the duplicates.
	ErrAmbiguousLinkCandidates = errors.New("attribute query matched more than one account")

	// ErrNoMatchAndCreationDisabled rejects a login for an unknown subject
	// when account creation is switched off.
	ErrNoMatchAndCreationDisabled = errors.New("no matching account and creation is disabled")

	// ErrAccountBlocked rejects a login that resolved to a blocked account.
	ErrAccountBlocked = errors.New("account is blocked")

	// ErrUnknownField indicates an attribute mapping names a field the
	// account store does not carry. Raised at configuration time, never
	// during a login.
	ErrUnknownField = errors.New("mapping references an unknown account field")

	// ErrMissingSeedValue rejects an account creation whose required seed
	// fields cannot all be filled from the assertion attributes.
	ErrMissingSeedValue = errors.New("required field has no attribute value")

	ErrInvalidParameter = errors.New("invalid parameter")
)
