// Package registry fetches package descriptors from the e14z registry
// API. A descriptor is the immutable input to an install-and-run
// attempt: the slug, the preferred install command, the ordered list of
// alternative installation methods, and the environment the package
// expects. Responses are validated against an embedded JSON Schema
// before anything downstream sees them.
package registry
