// Package audit records security-relevant events as structured JSON
// lines: authorization decisions, token issuance and revocation, and
// policy administration. The trail is append-only and separate from
// operational logging so it can be shipped and retained independently.
package audit
