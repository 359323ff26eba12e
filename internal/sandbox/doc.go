// Package sandbox executes one subprocess under sanitized inputs,
// resource monitoring, and timeout policy. Isolation is best-effort:
// inputs are screened by the sanitizer, working directories are
// validated, output is capped, and memory is sampled against a ceiling.
// There is no kernel-level confinement underneath.
//
// Commands classified as persistent MCP servers are handled specially:
// instead of a hard deadline they race a startup heuristic against a
// short grace period, and on success the child is left running with its
// pid reported to the caller.
package sandbox
