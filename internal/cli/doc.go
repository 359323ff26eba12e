// Package cli wires the cobra command tree. Commands stay thin: they
// parse flags, build the installer stack from configuration, and print
// results; all behavior lives in the internal packages they call.
package cli
