// Package pkgmanager adapts the install/run lifecycle to each package
// ecosystem. One Manager exists per ecosystem (npm, pip, cargo, git,
// docker) plus a generic fallback; selection is ordered first-match
// over CanHandle, never exception-driven dispatch. Adapters parse an
// install command into an immutable PackageInfo, perform the install
// into a cache directory, and resolve the executable to run.
package pkgmanager
