package samlsp

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/samlx/samlsp/account"
)

// ServiceProvider coordinates the codec, the validator, the attribute
// extractor and the account resolution policy for the five SP operations:
// login, logout, acs, sls and metadata.
//
// Every operation runs synchronously within one inbound request and returns
// an instruction; the ServiceProvider itself never follows redirects, writes
// HTTP responses, or persists accounts. The outstanding-request-ID store is
// the only mutable state it holds.
type ServiceProvider struct {
	cfg        *Config
	logger     hclog.Logger
	requestIDs RequestIDStore
	verifier   SignatureVerifier
	resolver   account.Resolver
}

type serviceProviderOptions struct {
	requestIDs RequestIDStore
	verifier   SignatureVerifier
	resolver   account.Resolver
}

func getServiceProviderOptions(opt ...Option) serviceProviderOptions {
	opts := serviceProviderOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRequestIDStore replaces the in-memory outstanding-request-ID store,
// e.g. with one backed by the user's session.
func WithRequestIDStore(s RequestIDStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.requestIDs = s
		}
	}
}

// WithSignatureVerifier replaces the goxmldsig-backed verifier. Intended for
// tests exercising the validation policy without cryptographic material.
func WithSignatureVerifier(v SignatureVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.verifier = v
		}
	}
}

// WithAccountResolver attaches an account resolution policy. Without one,
// ACS returns the extracted identity and leaves account handling to the
// caller.
func WithAccountResolver(r account.Resolver) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.resolver = r
		}
	}
}

// NewServiceProvider creates a new ServiceProvider.
//
// Options:
// - WithRequestIDStore
// - WithSignatureVerifier
// - WithAccountResolver
func NewServiceProvider(cfg *Config, opt ...Option) (*ServiceProvider, error) {
	const op = "samlsp.NewServiceProvider"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no provider config provided: %w", op, ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: insufficient provider config: %w", op, err)
	}

	opts := getServiceProviderOptions(opt...)

	if opts.requestIDs == nil {
		opts.requestIDs = NewMemoryRequestIDStore(cfg.Clock)
	}
	if opts.verifier == nil && len(cfg.IdPCerts()) > 0 {
		opts.verifier = NewSignatureVerifier(cfg.IdPCerts())
	}

	return &ServiceProvider{
		cfg:        cfg,
		logger:     cfg.Logger,
		requestIDs: opts.requestIDs,
		verifier:   opts.verifier,
		resolver:   opts.resolver,
	}, nil
}

// Config returns the service provider config.
func (sp *ServiceProvider) Config() *Config {
	return sp.cfg
}

// Redirect instructs the caller to send the browser to URL. RequestID is
// set when the redirect carries an outbound request whose answer will be
// correlated later.
type Redirect struct {
	URL       string
	RequestID string
}

// ACSResult is the outcome of a successful assertion-consumer call.
type ACSResult struct {
	// Identity is the validated, extracted subject.
	Identity *Identity

	// Outcome is the account resolution decision, nil when no resolver is
	// configured. The caller performs the persistence it implies and then
	// establishes the local session.
	Outcome *account.Outcome

	// RedirectTo is the local path to send the browser to.
	RedirectTo string

	// Warnings holds non-critical validation findings (best-effort mode).
	Warnings []error
}

// SLSResult is the outcome of a single-logout call. The caller must
// terminate the local session before following RedirectTo.
type SLSResult struct {
	RedirectTo string
}

// Login starts an authentication transaction: it validates the requested
// post-login destination, builds a redirect-binding AuthnRequest to the IdP,
// and records the request ID for later correlation. The destination rides in
// RelayState.
func (sp *ServiceProvider) Login(returnTo string, opt ...Option) (*Redirect, error) {
	const op = "samlsp.ServiceProvider.Login"

	dest, err := ValidateDestination(returnTo)
	if err != nil {
		sp.logFailure(op, err)
		return nil, err
	}
	if dest == "" {
		dest = sp.cfg.PostLoginURL
	}

	redirect, authn, err := sp.AuthnRequestRedirect(dest, opt...)
	if err != nil {
		sp.logFailure(op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := sp.requestIDs.Store(authn.ID, DefaultRequestIDExpiry); err != nil {
		sp.logFailure(op, err)
		return nil, fmt.Errorf("%s: failed to record request ID: %w", op, err)
	}

	return &Redirect{URL: redirect.String(), RequestID: authn.ID}, nil
}

// LoginPost is Login with the HTTP-POST binding: instead of a redirect it
// returns the self-submitting form document to serve to the browser.
func (sp *ServiceProvider) LoginPost(returnTo string, opt ...Option) ([]byte, string, error) {
	const op = "samlsp.ServiceProvider.LoginPost"

	dest, err := ValidateDestination(returnTo)
	if err != nil {
		sp.logFailure(op, err)
		return nil, "", err
	}
	if dest == "" {
		dest = sp.cfg.PostLoginURL
	}

	form, authn, err := sp.AuthnRequestPost(dest, opt...)
	if err != nil {
		sp.logFailure(op, err)
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}

	if err := sp.requestIDs.Store(authn.ID, DefaultRequestIDExpiry); err != nil {
		sp.logFailure(op, err)
		return nil, "", fmt.Errorf("%s: failed to record request ID: %w", op, err)
	}

	return form, authn.ID, nil
}

// Logout starts a single-logout transaction for the given subject,
// symmetric to Login.
func (sp *ServiceProvider) Logout(
	returnTo, nameID, sessionIndex string, opt ...Option,
) (*Redirect, error) {
	const op = "samlsp.ServiceProvider.Logout"

	dest, err := ValidateDestination(returnTo)
	if err != nil {
		sp.logFailure(op, err)
		return nil, err
	}
	if dest == "" {
		dest = sp.cfg.PostLogoutURL
	}

	redirect, logoutReq, err := sp.LogoutRequestRedirect(nameID, sessionIndex, dest, opt...)
	if err != nil {
		sp.logFailure(op, err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := sp.requestIDs.Store(logoutReq.ID, DefaultRequestIDExpiry); err != nil {
		sp.logFailure(op, err)
		return nil, fmt.Errorf("%s: failed to record request ID: %w", op, err)
	}

	return &Redirect{URL: redirect.String(), RequestID: logoutReq.ID}, nil
}

// ACS processes an assertion-consumer call: parse, validate, extract, and
// resolve the account. Any failure is terminal for the transaction and
// leaves the outstanding-request-ID set and all account state untouched,
// except that a successfully validated response consumes its request ID so a
// replay of the same response is rejected.
func (sp *ServiceProvider) ACS(
	ctx context.Context, rawResponse, relayState string,
) (*ACSResult, error) {
	const op = "samlsp.ServiceProvider.ACS"

	parsed, err := ParseResponse(rawResponse)
	if err != nil {
		sp.logFailure(op, err)
		return nil, err
	}

	result, err := Validate(parsed, sp.validationRef())
	if err != nil {
		sp.logFailure(op, err)
		return nil, err
	}

	// The consume must happen through the store's own atomic check-and-delete
	// so two concurrent deliveries of the same response cannot both pass.
	if id := result.ConsumableRequestID; id != "" {
		if !sp.requestIDs.Consume(id) {
			err := fmt.Errorf("%s: request ID %q already consumed: %w", op, id, ErrReplayOrUnsolicited)
			sp.logFailure(op, err)
			return nil, err
		}
	}

	identity, err := Extract(result.ValidatedResponse)
	if err != nil {
		sp.logFailure(op, err)
		return nil, err
	}

	acsResult := &ACSResult{
		Identity:   identity,
		RedirectTo: sp.normalizeRelayState(relayState, sp.cfg.PostLoginURL),
		Warnings:   result.Warnings,
	}

	if sp.resolver != nil {
		outcome, err := sp.resolver.Resolve(ctx, identity.NameID, identity.Attributes)
		if err != nil {
			sp.logFailure(op, err)
			return nil, fmt.Errorf("%s: account resolution failed: %w", op, err)
		}
		if outcome.Decision == account.DecisionRejected {
			err := fmt.Errorf("%s: account resolution rejected: %w", op, outcome.Reason)
			sp.logFailure(op, err)
			return nil, err
		}
		acsResult.Outcome = outcome
	}

	sp.logger.Info("assertion accepted",
		"name_id_format", string(identity.NameIDFormat),
		"session_index", identity.SessionIndex,
		"warnings", len(acsResult.Warnings),
	)

	return acsResult, nil
}

// SLS processes a single-logout call. Exactly one of rawResponse (the IdP
// answering our LogoutRequest) or rawRequest (an IdP-initiated logout) must
// be set. Either message passes the same checks an assertion does before it
// is honored: signature per the security policy, issuer, and destination.
// On success the caller terminates the local session.
func (sp *ServiceProvider) SLS(
	ctx context.Context, rawResponse, rawRequest, relayState string,
) (*SLSResult, error) {
	const op = "samlsp.ServiceProvider.SLS"

	switch {
	case rawResponse != "":
		parsed, err := ParseLogoutResponse(rawResponse)
		if err != nil {
			sp.logFailure(op, err)
			return nil, err
		}

		validated, err := sp.verifyLogoutSignature(parsed.Doc)
		if err != nil {
			err = fmt.Errorf("%s: %w", op, err)
			sp.logFailure(op, err)
			return nil, err
		}

		logoutRes := parsed.Response
		if validated != nil {
			if logoutRes, err = rebuildLogoutResponse(validated); err != nil {
				err = fmt.Errorf("%s: %w", op, err)
				sp.logFailure(op, err)
				return nil, err
			}
		}

		if err := sp.checkLogoutEnvelope(logoutRes.Issuer, logoutRes.Destination); err != nil {
			err = fmt.Errorf("%s: %w", op, err)
			sp.logFailure(op, err)
			return nil, err
		}

		if !logoutRes.Status.Success() {
			err := fmt.Errorf("%s: %w", op, &IdpError{
				Status:  logoutRes.Status.StatusCode.Value,
				Message: logoutRes.Status.StatusMessage,
			})
			sp.logFailure(op, err)
			return nil, err
		}

		if id := logoutRes.InResponseTo; id != "" {
			if !sp.requestIDs.Consume(id) {
				err := fmt.Errorf("%s: logout response ID %q: %w", op, id, ErrReplayOrUnsolicited)
				sp.logFailure(op, err)
				return nil, err
			}
		}

		return &SLSResult{
			RedirectTo: sp.normalizeRelayState(relayState, sp.cfg.PostLogoutURL),
		}, nil

	case rawRequest != "":
		parsed, err := ParseLogoutRequest(rawRequest)
		if err != nil {
			sp.logFailure(op, err)
			return nil, err
		}

		validated, err := sp.verifyLogoutSignature(parsed.Doc)
		if err != nil {
			err = fmt.Errorf("%s: %w", op, err)
			sp.logFailure(op, err)
			return nil, err
		}

		logoutReq := parsed.Request
		if validated != nil {
			if logoutReq, err = rebuildLogoutRequest(validated); err != nil {
				err = fmt.Errorf("%s: %w", op, err)
				sp.logFailure(op, err)
				return nil, err
			}
		}

		if err := sp.checkLogoutEnvelope(logoutReq.Issuer, logoutReq.Destination); err != nil {
			err = fmt.Errorf("%s: %w", op, err)
			sp.logFailure(op, err)
			return nil, err
		}

		if logoutReq.NameID == nil || logoutReq.NameID.Value == "" {
			err := fmt.Errorf("%s: logout request without NameID: %w", op, ErrMalformedMessage)
			sp.logFailure(op, err)
			return nil, err
		}

		redirect, err := sp.LogoutResponseRedirect(logoutReq.ID, relayState)
		if err != nil {
			sp.logFailure(op, err)
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		return &SLSResult{RedirectTo: redirect.String()}, nil

	default:
		return nil, fmt.Errorf("%s: neither SAMLResponse nor SAMLRequest provided: %w",
			op, ErrInvalidParameter)
	}
}

func (sp *ServiceProvider) validationRef() *ValidationRef {
	return &ValidationRef{
		Destination: sp.cfg.AssertionConsumerServiceURL.String(),
		Audience:    sp.cfg.EntityID.String(),
		Policy:      sp.cfg.Security,
		Verifier:    sp.verifier,
		RequestIDs:  sp.requestIDs,
		Now:         sp.cfg.Clock.Now(),
	}
}

// logFailure records the full failure detail. Callers surface only a generic
// message to the browser; the structured log line is the place where the
// real reason lives.
func (sp *ServiceProvider) logFailure(op string, err error) {
	sp.logger.Error("transaction failed", "op", op, "error", err)

	if errors.Is(err, account.ErrAmbiguousLinkCandidates) ||
		errors.Is(err, account.ErrAccountBlocked) {
		sp.logger.Error("administrator action required", "op", op, "error", err)
	}
}
