// Package corefact implements the core memory tier: a small, permanently
// curated tree of facts addressed by dot-separated key paths.
//
// The tree is stored flattened: every leaf is one record keyed by its full
// path, carrying the JSON-encoded value and the time it was last written.
// Interior nodes are implicit. Setting "a.b.c" writes one leaf and never
// touches "a.b.d"; deleting "a.b.c" removes that leaf and nothing above it.
//
// Two backends are provided, a Redis hash and an etcd key prefix. Both apply
// each mutation as a single optimistic transaction and keep no local cache,
// so every read reflects the backing store.
package corefact
