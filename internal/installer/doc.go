// Package installer is the top-level orchestrator: it fetches a
// package descriptor from the registry, selects an install method and
// ecosystem adapter, installs into the secure cache under a rollback
// transaction, verifies the package, and finally runs it in the
// process sandbox. InstallAndRun never returns an error; every outcome
// is a RunResult so callers get a uniform shape for success and
// failure alike.
package installer
