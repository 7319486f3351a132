package account_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp/account"
)

// fakeAccount is the in-memory account record the fake store hands out.
type fakeAccount struct {
	id      string
	blocked bool
	fields  map[string]string
	roles   []string
}

func (a *fakeAccount) ID() string      { return a.id }
func (a *fakeAccount) IsBlocked() bool { return a.blocked }
func (a *fakeAccount) Roles() []string { return a.roles }

func (a *fakeAccount) Get(field string) string {
	return a.fields[field]
}

func (a *fakeAccount) Set(field, value string) bool {
	if a.fields[field] == value {
		return false
	}
	a.fields[field] = value
	return true
}

func (a *fakeAccount) SetRoles(roles []string) bool {
	if len(roles) == len(a.roles) {
		same := true
		current := make(map[string]struct{}, len(a.roles))
		for _, r := range a.roles {
			current[r] = struct{}{}
		}
		for _, r := range roles {
			if _, ok := current[r]; !ok {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	a.roles = roles
	return true
}

type fakeStore struct {
	accounts []*fakeAccount
	links    map[string]*fakeAccount
	fields   []string

	saves   int
	creates int

	failQuery error
}

func newFakeStore(accounts ...*fakeAccount) *fakeStore {
	return &fakeStore{
		accounts: accounts,
		links:    map[string]*fakeAccount{},
		fields:   []string{"name", "mail", "department"},
	}
}

func (s *fakeStore) LookupByLink(_ context.Context, uniqueID string) (account.Account, error) {
	acct, ok := s.links[uniqueID]
	if !ok {
		return nil, nil
	}
	return acct, nil
}

func (s *fakeStore) Query(
	_ context.Context, conditions []account.Condition, conj account.Conjunction,
) ([]account.Account, error) {
	if s.failQuery != nil {
		return nil, s.failQuery
	}

	var matches []account.Account
	for _, acct := range s.accounts {
		hits := 0
		for _, c := range conditions {
			if acct.fields[c.Field] == c.Value {
				hits++
			}
		}
		switch conj {
		case account.ConjunctionOr:
			if hits > 0 {
				matches = append(matches, acct)
			}
		default:
			if hits == len(conditions) {
				matches = append(matches, acct)
			}
		}
	}
	return matches, nil
}

func (s *fakeStore) SaveLink(_ context.Context, uniqueID string, acct account.Account) error {
	s.links[uniqueID] = acct.(*fakeAccount)
	return nil
}

func (s *fakeStore) Create(_ context.Context, seed account.Seed) (account.Account, error) {
	s.creates++
	acct := &fakeAccount{
		id:     fmt.Sprintf("acct-%d", len(s.accounts)+1),
		fields: map[string]string{},
		roles:  seed.Roles,
	}
	for f, v := range seed.Fields {
		acct.fields[f] = v
	}
	s.accounts = append(s.accounts, acct)
	return acct, nil
}

func (s *fakeStore) Save(_ context.Context, _ account.Account) error {
	s.saves++
	return nil
}

func (s *fakeStore) Fields() []string {
	return s.fields
}

func testConfig() account.Config {
	return account.Config{
		Map: account.AttributeMap{
			"name": {Attribute: "urn:oid:2.5.4.3"},
			"mail": {Attribute: "urn:oid:0.9.2342.19200300.100.1.3", UseForLinking: true},
		},
	}
}

func testAttributes() map[string][]string {
	return map[string][]string{
		"urn:oid:2.5.4.3":                   {"Tester"},
		"urn:oid:0.9.2342.19200300.100.1.3": {"tester@example.com"},
	}
}

func Test_NewResolver(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		r := require.New(t)
		got, err := account.NewResolver(testConfig(), newFakeStore())
		r.NoError(err)
		r.NotNil(got)
	})

	t.Run("missing store", func(t *testing.T) {
		r := require.New(t)
		_, err := account.NewResolver(testConfig(), nil)
		r.ErrorIs(err, account.ErrInvalidParameter)
	})

	t.Run("mapping onto an unknown field", func(t *testing.T) {
		r := require.New(t)
		cfg := testConfig()
		cfg.Map["shoe_size"] = account.FieldMapping{Attribute: "urn:oid:9.9.9"}
		_, err := account.NewResolver(cfg, newFakeStore())
		r.ErrorIs(err, account.ErrUnknownField)
	})

	t.Run("required field unknown to the store", func(t *testing.T) {
		r := require.New(t)
		cfg := testConfig()
		cfg.RequireForCreation = []string{"shoe_size"}
		_, err := account.NewResolver(cfg, newFakeStore())
		r.ErrorIs(err, account.ErrUnknownField)
	})

	t.Run("bad conjunction", func(t *testing.T) {
		r := require.New(t)
		cfg := testConfig()
		cfg.Conjunction = "XOR"
		_, err := account.NewResolver(cfg, newFakeStore())
		r.ErrorIs(err, account.ErrInvalidParameter)
	})
}

func Test_Resolve_Linked(t *testing.T) {
	ctx := context.Background()

	t.Run("empty NameID is rejected", func(t *testing.T) {
		r := require.New(t)

		resolver, err := account.NewResolver(testConfig(), newFakeStore())
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrEmptyNameID)
	})

	t.Run("existing link wins and syncs", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"name": "Old Name",
			"mail": "tester@example.com",
		}}
		store := newFakeStore(acct)
		store.links["subject-1"] = acct

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionLinked, outcome.Decision)
		r.True(outcome.Dirty)
		r.Equal(1, store.saves)
		r.Equal("Tester", acct.Get("name"))
	})

	t.Run("unchanged attributes do not save", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"name": "Tester",
			"mail": "tester@example.com",
		}}
		store := newFakeStore(acct)
		store.links["subject-1"] = acct

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionLinked, outcome.Decision)
		r.False(outcome.Dirty)
		r.Equal(0, store.saves)
	})

	t.Run("present but empty attribute keeps the field", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"name": "Keep Me",
			"mail": "tester@example.com",
		}}
		store := newFakeStore(acct)
		store.links["subject-1"] = acct

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["urn:oid:2.5.4.3"] = []string{""}

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.Equal(account.DecisionLinked, outcome.Decision)
		r.False(outcome.Dirty)
		r.Equal(0, store.saves)
		r.Equal("Keep Me", acct.Get("name"))
	})

	t.Run("blocked account rejects the login", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", blocked: true, fields: map[string]string{}}
		store := newFakeStore(acct)
		store.links["subject-1"] = acct

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrAccountBlocked)
	})
}

func Test_Resolve_AttributeQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("single match links and records the link", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"mail": "tester@example.com",
		}}
		store := newFakeStore(acct)

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionLinked, outcome.Decision)
		r.Same(acct, store.links["subject-1"])
	})

	t.Run("ambiguity never guesses", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore(
			&fakeAccount{id: "acct-1", fields: map[string]string{"mail": "tester@example.com"}},
			&fakeAccount{id: "acct-2", fields: map[string]string{"mail": "tester@example.com"}},
		)

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrAmbiguousLinkCandidates)
		r.Empty(store.links)
	})

	t.Run("matched account may be blocked", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore(&fakeAccount{
			id: "acct-1", blocked: true,
			fields: map[string]string{"mail": "tester@example.com"},
		})

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrAccountBlocked)
		r.Empty(store.links)
	})

	t.Run("OR conjunction links on any condition", func(t *testing.T) {
		r := require.New(t)

		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"name": "Tester",
			"mail": "old-address@example.com",
		}}
		store := newFakeStore(acct)

		cfg := testConfig()
		cfg.Conjunction = account.ConjunctionOr
		cfg.Map["name"] = account.FieldMapping{
			Attribute: "urn:oid:2.5.4.3", UseForLinking: true,
		}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionLinked, outcome.Decision)
		r.Same(acct, store.links["subject-1"])
	})

	t.Run("empty attribute values never become conditions", func(t *testing.T) {
		r := require.New(t)

		// A directory entry with an empty mail value must not match a login
		// whose mail attribute arrived empty.
		store := newFakeStore(&fakeAccount{id: "acct-1", fields: map[string]string{"mail": ""}})

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["urn:oid:0.9.2342.19200300.100.1.3"] = []string{""}

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrNoMatchAndCreationDisabled)
	})

	t.Run("store failure surfaces as an error", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore()
		store.failQuery = errors.New("connection refused")

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		_, err = resolver.Resolve(ctx, "subject-1", testAttributes())
		r.ErrorContains(err, "connection refused")
	})
}

func Test_Resolve_Creation(t *testing.T) {
	ctx := context.Background()

	t.Run("no match creates when enabled", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore()
		cfg := testConfig()
		cfg.CreateUsers = true

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionCreated, outcome.Decision)
		r.False(outcome.Dirty)
		r.Equal(1, store.creates)
		r.Equal("Tester", outcome.Account.Get("name"))
		r.Equal("tester@example.com", outcome.Account.Get("mail"))
		r.Same(outcome.Account.(*fakeAccount), store.links["subject-1"])
	})

	t.Run("creation disabled rejects", func(t *testing.T) {
		r := require.New(t)

		resolver, err := account.NewResolver(testConfig(), newFakeStore())
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrNoMatchAndCreationDisabled)
	})

	t.Run("empty attribute values never seed fields", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore()
		cfg := testConfig()
		cfg.CreateUsers = true
		cfg.RequireForCreation = []string{"name"}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["urn:oid:2.5.4.3"] = []string{""}

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrMissingSeedValue)
		r.Equal(0, store.creates)
	})

	t.Run("missing required seed value rejects", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore()
		cfg := testConfig()
		cfg.CreateUsers = true
		cfg.RequireForCreation = []string{"mail"}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		attrs := testAttributes()
		delete(attrs, "urn:oid:0.9.2342.19200300.100.1.3")

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.Equal(account.DecisionRejected, outcome.Decision)
		r.ErrorIs(outcome.Reason, account.ErrMissingSeedValue)
		r.Equal(0, store.creates)
	})
}

func Test_Resolve_Roles(t *testing.T) {
	ctx := context.Background()

	newLinked := func(roles ...string) (*fakeStore, *fakeAccount) {
		acct := &fakeAccount{id: "acct-1", fields: map[string]string{
			"name": "Tester",
			"mail": "tester@example.com",
		}, roles: roles}
		store := newFakeStore(acct)
		store.links["subject-1"] = acct
		return store, acct
	}

	t.Run("roles attribute replaces the set", func(t *testing.T) {
		r := require.New(t)

		store, acct := newLinked("stale-role")
		cfg := testConfig()
		cfg.RolesAttribute = "groups"

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["groups"] = []string{"editors", "admins", "editors"}

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.True(outcome.Dirty)

		got := append([]string(nil), acct.Roles()...)
		sort.Strings(got)
		r.Equal([]string{"admins", "editors"}, got)
	})

	t.Run("always-assigned roles are unioned in", func(t *testing.T) {
		r := require.New(t)

		store, acct := newLinked()
		cfg := testConfig()
		cfg.RolesAttribute = "groups"
		cfg.AlwaysAssignRoles = []string{"saml-user"}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["groups"] = []string{"editors"}

		_, err = resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)

		got := append([]string(nil), acct.Roles()...)
		sort.Strings(got)
		r.Equal([]string{"editors", "saml-user"}, got)
	})

	t.Run("always-assigned roles without a roles attribute keep existing roles", func(t *testing.T) {
		r := require.New(t)

		store, acct := newLinked("local-role")
		cfg := testConfig()
		cfg.AlwaysAssignRoles = []string{"saml-user"}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		_, err = resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)

		got := append([]string(nil), acct.Roles()...)
		sort.Strings(got)
		r.Equal([]string{"local-role", "saml-user"}, got)
	})

	t.Run("no role policy leaves roles untouched", func(t *testing.T) {
		r := require.New(t)

		store, acct := newLinked("local-role")

		resolver, err := account.NewResolver(testConfig(), store)
		r.NoError(err)

		outcome, err := resolver.Resolve(ctx, "subject-1", testAttributes())
		r.NoError(err)
		r.False(outcome.Dirty)
		r.Equal([]string{"local-role"}, acct.Roles())
	})

	t.Run("created accounts receive the role set", func(t *testing.T) {
		r := require.New(t)

		store := newFakeStore()
		cfg := testConfig()
		cfg.CreateUsers = true
		cfg.RolesAttribute = "groups"
		cfg.AlwaysAssignRoles = []string{"saml-user"}

		resolver, err := account.NewResolver(cfg, store)
		r.NoError(err)

		attrs := testAttributes()
		attrs["groups"] = []string{"editors"}

		outcome, err := resolver.Resolve(ctx, "subject-1", attrs)
		r.NoError(err)
		r.Equal(account.DecisionCreated, outcome.Decision)

		got := append([]string(nil), outcome.Account.Roles()...)
		sort.Strings(got)
		r.Equal([]string{"editors", "saml-user"}, got)
	})
}
