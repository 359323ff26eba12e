// Package sanitize screens commands, arguments, and environment variables
// for shell-injection payloads before any subprocess is spawned. The
// checks are pattern based: there is no kernel sandbox underneath, so
// rejecting hostile input up front is the primary line of defense.
package sanitize
