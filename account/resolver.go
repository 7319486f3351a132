package account

import (
	"context"
	"fmt"
	"sort"
)

// PolicyResolver implements the resolution policy against a Store:
//
//  1. An account already linked to the unique subject ID wins outright.
//  2. Otherwise the linkable mapped fields are queried. Exactly one match
//     links and records the link; more than one rejects the login.
//  3. Otherwise a new account is created when creation is enabled, seeded
//     from the mapped attributes, and linked.
//
// Blocked accounts reject at whichever step finds them. Policy rejections
// come back as a DecisionRejected outcome; only store failures surface as
// errors.
type PolicyResolver struct {
	cfg   Config
	store Store
}

var _ Resolver = (*PolicyResolver)(nil)

// NewResolver validates the policy against the store's fields and returns a
// resolver bound to both.
func NewResolver(cfg Config, store Store) (*PolicyResolver, error) {
	const op = "account.NewResolver"

	if store == nil {
		return nil, fmt.Errorf("%s: no store provided: %w", op, ErrInvalidParameter)
	}
	if err := cfg.Validate(store.Fields()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PolicyResolver{cfg: cfg, store: store}, nil
}

// Resolve maps the subject onto a local account per the configured policy.
func (r *PolicyResolver) Resolve(
	ctx context.Context, nameID string, attributes map[string][]string,
) (*Outcome, error) {
	const op = "account.PolicyResolver.Resolve"

	if nameID == "" {
		return rejected(ErrEmptyNameID), nil
	}

	acct, err := r.store.LookupByLink(ctx, nameID)
	if err != nil {
		return nil, fmt.Errorf("%s: link lookup: %w", op, err)
	}
	if acct != nil {
		return r.complete(ctx, acct, attributes)
	}

	if conds := r.linkConditions(attributes); len(conds) > 0 {
		matches, err := r.store.Query(ctx, conds, r.cfg.conjunction())
		if err != nil {
			return nil, fmt.Errorf("%s: attribute query: %w", op, err)
		}

		switch len(matches) {
		case 0:
			// fall through to creation
		case 1:
			acct := matches[0]
			if acct.IsBlocked() {
				return rejected(fmt.Errorf("account %s: %w", acct.ID(), ErrAccountBlocked)), nil
			}
			if err := r.store.SaveLink(ctx, nameID, acct); err != nil {
				return nil, fmt.Errorf("%s: saving link: %w", op, err)
			}
			return r.complete(ctx, acct, attributes)
		default:
			return rejected(fmt.Errorf("%d candidates: %w",
				len(matches), ErrAmbiguousLinkCandidates)), nil
		}
	}

	if !r.cfg.CreateUsers {
		return rejected(ErrNoMatchAndCreationDisabled), nil
	}

	return r.create(ctx, nameID, attributes)
}

// complete finishes a login on a known account: block check, attribute
// synchronization, persistence when anything changed.
func (r *PolicyResolver) complete(
	ctx context.Context, acct Account, attributes map[string][]string,
) (*Outcome, error) {
	const op = "account.PolicyResolver.complete"

	if acct.IsBlocked() {
		return rejected(fmt.Errorf("account %s: %w", acct.ID(), ErrAccountBlocked)), nil
	}

	dirty := r.sync(acct, attributes)
	if dirty {
		if err := r.store.Save(ctx, acct); err != nil {
			return nil, fmt.Errorf("%s: saving account: %w", op, err)
		}
	}

	return &Outcome{Decision: DecisionLinked, Account: acct, Dirty: dirty}, nil
}

func (r *PolicyResolver) create(
	ctx context.Context, nameID string, attributes map[string][]string,
) (*Outcome, error) {
	const op = "account.PolicyResolver.create"

	seed := Seed{
		UniqueID: nameID,
		Fields:   map[string]string{},
		Roles:    r.roleSet(nil, attributes),
	}

	for _, field := range sortedFields(r.cfg.Map) {
		if v, ok := firstValue(attributes, r.cfg.Map[field].Attribute); ok && v != "" {
			seed.Fields[field] = v
		}
	}

	for _, field := range r.cfg.RequireForCreation {
		if seed.Fields[field] == "" {
			return rejected(fmt.Errorf("field %q: %w", field, ErrMissingSeedValue)), nil
		}
	}

	acct, err := r.store.Create(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("%s: creating account: %w", op, err)
	}

	if err := r.store.SaveLink(ctx, nameID, acct); err != nil {
		return nil, fmt.Errorf("%s: saving link: %w", op, err)
	}

	return &Outcome{Decision: DecisionCreated, Account: acct}, nil
}

// sync applies the attribute map and the role policy to a loaded account,
// reporting whether anything changed. A field whose source attribute is
// absent or empty keeps its value.
func (r *PolicyResolver) sync(acct Account, attributes map[string][]string) bool {
	dirty := false

	for _, field := range sortedFields(r.cfg.Map) {
		if v, ok := firstValue(attributes, r.cfg.Map[field].Attribute); ok && v != "" {
			if acct.Set(field, v) {
				dirty = true
			}
		}
	}

	if roles := r.roleSet(acct.Roles(), attributes); roles != nil {
		if acct.SetRoles(roles) {
			dirty = true
		}
	}

	return dirty
}

// roleSet computes the account's new role set. With a roles attribute
// configured, its values replace the current set entirely; the
// always-assigned roles are unioned in either way. Returns nil when the
// policy does not touch roles at all.
func (r *PolicyResolver) roleSet(current []string, attributes map[string][]string) []string {
	if r.cfg.RolesAttribute == "" && len(r.cfg.AlwaysAssignRoles) == 0 {
		return nil
	}

	var base []string
	if r.cfg.RolesAttribute != "" {
		base = attributes[r.cfg.RolesAttribute]
	} else {
		base = current
	}

	seen := make(map[string]struct{}, len(base))
	roles := make([]string, 0, len(base)+len(r.cfg.AlwaysAssignRoles))
	for _, role := range base {
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	for _, role := range r.cfg.AlwaysAssignRoles {
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	return roles
}

// linkConditions builds the attribute query from the linkable mapped
// fields. Fields whose attribute is absent or empty are skipped; an empty
// comparison value would match far too much.
func (r *PolicyResolver) linkConditions(attributes map[string][]string) []Condition {
	var conds []Condition
	for _, field := range sortedFields(r.cfg.Map) {
		mapping := r.cfg.Map[field]
		if !mapping.UseForLinking {
			continue
		}
		if v, ok := firstValue(attributes, mapping.Attribute); ok && v != "" {
			conds = append(conds, Condition{Field: field, Value: v})
		}
	}
	return conds
}

func rejected(reason error) *Outcome {
	return &Outcome{Decision: DecisionRejected, Reason: reason}
}

func firstValue(attributes map[string][]string, name string) (string, bool) {
	values, ok := attributes[name]
	if !ok {
		return "", false
	}
	if len(values) == 0 {
		return "", true
	}
	return values[0], true
}

// sortedFields fixes the iteration order so queries and seeds come out
// deterministic.
func sortedFields(m AttributeMap) []string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
