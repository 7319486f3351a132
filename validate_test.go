package samlsp_test

import (
	"crypto/x509"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samlx/samlsp"
	testprovider "github.com/samlx/samlsp/test"
)

const (
	testACS      = "http://sp.test.me/sso/acs"
	testAudience = "http://sp.test.me"
)

func testValidationRef(
	t *testing.T, p *testprovider.TestProvider, policy samlsp.SecurityPolicy,
) (*samlsp.ValidationRef, *samlsp.MemoryRequestIDStore) {
	t.Helper()

	store := samlsp.NewMemoryRequestIDStore(nil)
	require.NoError(t, store.Store("_outstanding-request", time.Minute))

	return &samlsp.ValidationRef{
		Destination: testACS,
		Audience:    testAudience,
		Policy:      policy,
		Verifier:    samlsp.NewSignatureVerifier([]*x509.Certificate{p.Certificate()}),
		RequestIDs:  store,
		Now:         time.Now(),
	}, store
}

func validParams() testprovider.ResponseParams {
	return testprovider.ResponseParams{
		InResponseTo: "_outstanding-request",
		Destination:  testACS,
		Audience:     testAudience,
	}
}

func Test_Validate_Success(t *testing.T) {
	r := require.New(t)
	p := testprovider.StartTestProvider(t)

	ref, store := testValidationRef(t, p, samlsp.SecurityPolicy{
		WantMessagesSigned: true,
		WantNameIDSigned:   true,
		Strict:             true,
	})

	parsed, err := samlsp.ParseResponse(p.SignedResponse(t, validParams()))
	r.NoError(err)

	result, err := samlsp.Validate(parsed, ref)
	r.NoError(err)
	r.True(result.ResponseSigned)
	r.Equal("_outstanding-request", result.ConsumableRequestID)
	r.Empty(result.Warnings)
	r.Equal("tester@example.com", result.ValidatedResponse.GetAssertion().GetSubject())

	// Validation never consumes the request ID, so validating the same
	// response again succeeds identically.
	r.True(store.Has("_outstanding-request"))
	again, err := samlsp.Validate(parsed, ref)
	r.NoError(err)
	r.Equal(result.ConsumableRequestID, again.ConsumableRequestID)

	// Consuming is a separate, one-shot act.
	r.True(store.Consume("_outstanding-request"))
	r.False(store.Consume("_outstanding-request"))
}

func Test_Validate_AssertionSignature(t *testing.T) {
	r := require.New(t)
	p := testprovider.StartTestProvider(t)

	ref, _ := testValidationRef(t, p, samlsp.SecurityPolicy{
		WantMessagesSigned: true,
		WantNameIDSigned:   true,
		Strict:             true,
	})

	params := validParams()
	params.SignAssertion = true

	parsed, err := samlsp.ParseResponse(p.SignedResponse(t, params))
	r.NoError(err)

	result, err := samlsp.Validate(parsed, ref)
	r.NoError(err)
	r.False(result.ResponseSigned)
	r.Equal(1, result.AssertionsSigned)
	r.Equal("tester@example.com", result.ValidatedResponse.GetAssertion().GetSubject())
}

func Test_Validate_Rejections(t *testing.T) {
	p := testprovider.StartTestProvider(t)

	strict := samlsp.SecurityPolicy{
		WantMessagesSigned: true,
		Strict:             true,
	}

	tests := []struct {
		name      string
		params    func() testprovider.ResponseParams
		tamper    func(raw string) string
		policy    samlsp.SecurityPolicy
		wantErrIs error
	}{
		{
			name: "authentication failure reported by the IdP",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.StatusCode = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrIdpReported,
		},
		{
			name: "unsolicited InResponseTo",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.InResponseTo = "_never-issued"
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrReplayOrUnsolicited,
		},
		{
			name: "destination mismatch",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.Destination = "http://evil.test.me/acs"
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrDestinationMismatch,
		},
		{
			name: "expired assertion",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.NotOnOrAfter = time.Now().Add(-10 * time.Minute)
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrAssertionExpired,
		},
		{
			name: "assertion not yet valid",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.NotBefore = time.Now().Add(10 * time.Minute)
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrAssertionNotYetValid,
		},
		{
			name: "audience restriction excludes this SP",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.Audience = "http://other-sp.test.me"
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrAudienceMismatch,
		},
		{
			name: "unsigned message when signatures are required",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.Unsigned = true
				return params
			},
			policy:    strict,
			wantErrIs: samlsp.ErrSignatureMissing,
		},
		{
			name: "unsigned message when the NameID must be signed",
			params: func() testprovider.ResponseParams {
				params := validParams()
				params.Unsigned = true
				return params
			},
			policy: samlsp.SecurityPolicy{
				WantNameIDSigned: true,
				Strict:           true,
			},
			wantErrIs: samlsp.ErrSignatureMissing,
		},
		{
			name:   "tampered NameID breaks the signature",
			params: validParams,
			tamper: func(raw string) string {
				decoded, err := base64.StdEncoding.DecodeString(raw)
				require.NoError(t, err)
				tampered := strings.Replace(string(decoded),
					"tester@example.com", "attacker@example.com", 1)
				return base64.StdEncoding.EncodeToString([]byte(tampered))
			},
			policy:    strict,
			wantErrIs: samlsp.ErrSignatureInvalid,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := require.New(t)

			ref, _ := testValidationRef(t, p, tc.policy)

			raw := p.SignedResponse(t, tc.params())
			if tc.tamper != nil {
				raw = tc.tamper(raw)
			}

			parsed, err := samlsp.ParseResponse(raw)
			r.NoError(err)

			_, err = samlsp.Validate(parsed, ref)
			r.ErrorIs(err, tc.wantErrIs)
		})
	}
}

func Test_Validate_BestEffortWarnings(t *testing.T) {
	r := require.New(t)
	p := testprovider.StartTestProvider(t)

	// Non-strict: destination and audience findings become warnings; the
	// response still validates.
	ref, _ := testValidationRef(t, p, samlsp.SecurityPolicy{
		WantMessagesSigned: true,
		Strict:             false,
	})

	params := validParams()
	params.Destination = "http://elsewhere.test.me/acs"
	params.Audience = "http://other-sp.test.me"

	parsed, err := samlsp.ParseResponse(p.SignedResponse(t, params))
	r.NoError(err)

	result, err := samlsp.Validate(parsed, ref)
	r.NoError(err)
	r.Len(result.Warnings, 2)
}

func Test_Validate_ExpiryBoundary(t *testing.T) {
	r := require.New(t)
	p := testprovider.StartTestProvider(t)

	// NotOnOrAfter exactly equal to the validation instant is still valid,
	// even with the skew tolerance disabled.
	boundary := time.Now().Add(2 * time.Minute).Truncate(time.Second)

	params := validParams()
	params.NotOnOrAfter = boundary

	parsed, err := samlsp.ParseResponse(p.SignedResponse(t, params))
	r.NoError(err)

	ref, _ := testValidationRef(t, p, samlsp.SecurityPolicy{
		WantMessagesSigned: true,
		Strict:             true,
		ClockSkew:          -1,
	})
	ref.Now = boundary

	_, err = samlsp.Validate(parsed, ref)
	r.NoError(err)

	// One instant later it is expired.
	ref.Now = boundary.Add(time.Second)
	_, err = samlsp.Validate(parsed, ref)
	r.ErrorIs(err, samlsp.ErrAssertionExpired)
}
