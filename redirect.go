package samlsp

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateDestination checks a user-supplied post-auth destination. Only
// same-origin relative paths are allowed; anything carrying a scheme, a
// host, or a protocol-relative prefix is an open-redirect vector and is
// rejected outright. An empty destination is valid and means "use the
// configured default".
func ValidateDestination(destination string) (string, error) {
	const op = "samlsp.ValidateDestination"

	if destination == "" {
		return "", nil
	}

	u, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("%s: unparseable destination: %w", op, ErrExternalDestinationRejected)
	}

	if u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", fmt.Errorf("%s: destination %q: %w", op, destination, ErrExternalDestinationRejected)
	}

	// "//host/path" parses with an empty scheme but still navigates off-site.
	if strings.HasPrefix(destination, "//") || strings.HasPrefix(destination, "/\\") {
		return "", fmt.Errorf("%s: destination %q: %w", op, destination, ErrExternalDestinationRejected)
	}

	if !strings.HasPrefix(destination, "/") {
		return "", fmt.Errorf("%s: destination %q is not absolute-path: %w",
			op, destination, ErrExternalDestinationRejected)
	}

	return destination, nil
}

// normalizeRelayState turns the RelayState echoed by the IdP into a local
// redirect target. A RelayState that does not parse as a URI, or that points
// back at the SP's own login or logout endpoints (the self-referential
// default some stacks set when none was supplied), counts as absent and the
// configured fallback is used.
func (sp *ServiceProvider) normalizeRelayState(relayState, fallback string) string {
	if relayState == "" {
		return fallback
	}

	u, err := url.Parse(relayState)
	if err != nil {
		sp.cfg.Logger.Warn("discarding unparseable RelayState", "relay_state", relayState)
		return fallback
	}

	if sp.isOwnSSOEndpoint(u) {
		return fallback
	}

	// Absolute RelayState URLs are only honored for our own origin;
	// everything else would be an open redirect.
	if u.Scheme != "" || u.Host != "" {
		own := sp.cfg.AssertionConsumerServiceURL
		if u.Scheme != own.Scheme || u.Host != own.Host {
			sp.cfg.Logger.Warn("discarding foreign RelayState", "relay_state", relayState)
			return fallback
		}
		if u.Path == "" {
			return fallback
		}
		return u.Path
	}

	if dest, err := ValidateDestination(relayState); err == nil && dest != "" {
		return dest
	}

	return fallback
}

// isOwnSSOEndpoint reports whether the URL names one of this module's own
// login/logout entry points, which can never be a meaningful post-auth
// destination.
func (sp *ServiceProvider) isOwnSSOEndpoint(u *url.URL) bool {
	path := strings.TrimSuffix(u.Path, "/")
	switch path {
	case "/sso/login", "/sso/logout":
		return true
	}

	acs := sp.cfg.AssertionConsumerServiceURL
	if (u.Host == "" || u.Host == acs.Host) && path != "" {
		base := strings.TrimSuffix(acs.Path, "/acs")
		if base != acs.Path {
			switch path {
			case base + "/login", base + "/logout":
				return true
			}
		}
	}

	return false
}
