// Package token implements the token authority: issuing, verifying and
// revoking signed bearer tokens.
//
// Tokens are three-segment HMAC-signed JWTs. Revocation is layered: an
// in-memory blacklist gives immediate same-process effect, and a durable
// credential store records revocations across restarts. Durable lookups
// run under a bounded timeout behind a circuit breaker; when the store is
// unreachable verification degrades to the in-memory check only.
package token
