// Package dict manipulates correction dictionaries: cleaning, lock-aware
// editing, local preview of substitutions, and file round-trips for the CLI.
package dict
