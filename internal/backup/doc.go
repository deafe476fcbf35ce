// Package backup captures a website checkout into a single compressed,
// self-describing archive.
//
// A run moves through Idle → Collecting → Manifesting → Archiving and ends
// in Done or Failed:
//
//   - Collector copies the configured content, config and artifact paths
//     into a staging directory named after the snapshot timestamp.
//   - ManifestBuilder records every staged file with its size, modification
//     time and SHA-256 digest, plus version, VCS and environment metadata.
//   - Archiver packs the staging directory (manifest included) into
//     backup-<snapshot>.tar.gz (or .tar.zst / .tar.lz4) and the Manager
//     removes staging afterwards. A failed run leaves staging in place.
//
// The Manifest type and ArchiveReader are shared with the recovery package,
// which reads the same archive layout back.
package backup
