// Package workspace manages the transient working area for builds.
//
// Each build gets a uniquely named directory (e.g., docspipeline-20260830-122336-1a2b3c)
// under a configurable base, with one subdirectory per synced repository. The
// workspace is removed by an explicit, idempotent Cleanup call; the permanent
// cache and reports locations are never under the workspace tree.
package workspace
