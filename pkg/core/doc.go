// Package core implements the munkipipe pipeline: running recipes, publishing
// their imports for review, mirroring the merged repository to the object store,
// and sweeping unreferenced artifacts.
package core
