package samlsp_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp"
	"github.com/samlx/samlsp/models/core"
)

func Test_Extract(t *testing.T) {
	newResponse := func(assertion *core.Assertion) *core.Response {
		res := &core.Response{}
		if assertion != nil {
			res.Assertion = []*core.Assertion{assertion}
		}
		return res
	}

	t.Run("normalizes subject, session and attributes", func(t *testing.T) {
		r := require.New(t)

		assertion := &core.Assertion{
			Subject: &core.Subject{
				NameID: &core.NameID{
					Value:  "tester@example.com",
					Format: core.NameIDFormatPersistent,
				},
			},
			AuthnStatement: []*core.AuthnStatement{
				{
					SessionIndex: "_session-1",
					AuthnContext: &core.AuthnContext{
						AuthnContextClassRef: core.AuthnContextPasswordProtectedTransport,
					},
				},
			},
			AttributeStatement: &core.AttributeStatement{
				Attribute: []*core.Attribute{
					{
						Name: "mail",
						AttributeValue: []core.AttributeValue{
							{Value: "tester@example.com"},
						},
					},
					{
						Name: "groups",
						AttributeValue: []core.AttributeValue{
							{Value: "admins"},
							{Value: "editors"},
						},
					},
					{
						Name: "empty",
						AttributeValue: []core.AttributeValue{
							{Value: ""},
						},
					},
				},
			},
		}

		identity, err := samlsp.Extract(newResponse(assertion))
		r.NoError(err)

		r.Equal("tester@example.com", identity.NameID)
		r.Equal(core.NameIDFormatPersistent, identity.NameIDFormat)
		r.Equal("_session-1", identity.SessionIndex)
		r.Equal(core.AuthnContextPasswordProtectedTransport, identity.AuthnContext)

		// Multi-valued attributes keep their order; an attribute sent with
		// an empty value is present with an empty entry, while an attribute
		// never sent has no key at all.
		r.Equal([]string{"tester@example.com"}, identity.Attributes["mail"])
		r.Equal([]string{"admins", "editors"}, identity.Attributes["groups"])
		r.Equal([]string{""}, identity.Attributes["empty"])
		_, sent := identity.Attributes["never-sent"]
		r.False(sent)
	})

	t.Run("no assertions", func(t *testing.T) {
		r := require.New(t)

		_, err := samlsp.Extract(newResponse(nil))
		r.ErrorIs(err, samlsp.ErrMissingAssertions)
	})

	t.Run("assertion without subject", func(t *testing.T) {
		r := require.New(t)

		_, err := samlsp.Extract(newResponse(&core.Assertion{}))
		r.ErrorIs(err, samlsp.ErrMissingSubject)
	})

	t.Run("no attribute statement yields an empty map", func(t *testing.T) {
		r := require.New(t)

		identity, err := samlsp.Extract(newResponse(&core.Assertion{
			Subject: &core.Subject{NameID: &core.NameID{Value: "tester"}},
		}))
		r.NoError(err)
		r.Empty(identity.Attributes)
		r.NotNil(identity.Attributes)
	})
}
