// Package jwt issues and verifies the short-lived bearer tokens handed to
// clients after login, registration, and provider sign-in.
//
// Tokens are HS256-signed with a single shared secret and carry only the
// subject (user id), issued-at, expiry and an optional issuer. The manager
// accepts exactly one algorithm: the parser is restricted with
// jwt.WithValidMethods and the key function refuses any other method, so a
// token signed with "none", RS256 or EdDSA never reaches signature checking.
//
// Age is enforced from the issued-at claim against the manager's own TTL, in
// addition to the embedded exp claim, so a token minted with a far-future exp
// still dies one TTL after issuance.
package jwt
