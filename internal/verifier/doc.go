// Package verifier risk-scores a fetched package before it is trusted.
// Seven independent checks each deduct from a starting score of 100 and
// append typed threats; the final policy fails any package with a
// critical threat, a low score, or too many high-severity findings.
// The reputation database (known-malicious names, popular names for
// typosquat comparison, trusted scopes) ships embedded and can be
// extended at runtime for tests.
package verifier
