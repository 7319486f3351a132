// samlsp is a framework-independent SAML v2.0 Service Provider core. It
// builds and signs authentication and logout requests, parses and validates
// inbound responses, extracts assertion attributes, and decides how an
// authenticated subject maps onto a local account.
//
// The package never performs redirects or touches persistent storage itself;
// every operation returns an instruction for the embedding application to
// carry out. See the handler package for a ready-made net/http surface and
// the account package for the account resolution policy.
package samlsp
