// Package cache is the secure on-disk store of installed packages. Every
// entry is keyed by (slug, version), guarded by a lock file during
// population, checksummed per file, and validated on read: a missing
// marker, a stale timestamp, or a checksum mismatch evicts the entry and
// reports a miss. Removal always deletes the package directory, metadata,
// and checksum file as a unit, so a partially-populated entry can never
// be observed as valid.
//
// Layout under the cache root:
//
//	packages/<slug>/<version>/   installed files, .e14z-lock, .e14z-installed
//	metadata/<slug>-<version>.json
//	checksums/<slug>-<version>.sha256
//	quarantine/<slug>-<version>-<ts>/
//	logs/security-<date>.jsonl   append-only audit trail
//	temp/
package cache
