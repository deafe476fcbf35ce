// Package recovery restores a website from an archive written by the backup
// package.
//
// Recovery validates the archive with a listing pass, extracts it into a
// temporary workspace and recomputes every checksum in the embedded
// manifest. A single mismatch aborts the run before the project is touched.
// Otherwise content and artifacts are copied into the project (never the
// build output directory), configuration files are restored with the live
// copies preserved as <name>.backup, and the install and build commands
// regenerate the build output.
package recovery
