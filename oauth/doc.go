// Package oauth adapts the Google OAuth 2.0 authorization-code flow to the
// engine: building the consent redirect, exchanging the returned code and
// fetching the OpenID userinfo profile.
//
// [StateStore] keeps single-use state values in Redis so a callback can only
// complete a flow this service started.
package oauth
