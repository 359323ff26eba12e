// Package platform provides cross-platform filesystem operations for
// permission management and executable detection. On Unix systems it uses
// chmod and the executable bit directly; on Windows, where permission
// bits do not apply, it falls back to extension-based checks.
package platform
