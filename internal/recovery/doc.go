// Package recovery provides the failure-handling spine of the installer:
// a category taxonomy for install errors, a retrier that distinguishes
// recoverable from fatal failures, and a transaction that records
// filesystem side effects so a failed install can be rolled back.
package recovery
