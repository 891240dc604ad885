// Package episodic implements the episodic memory tier: durable memories
// promoted from important interactions and recalled by cosine similarity.
//
// # Storage layout
//
// Each memory is a JSON string under <ns>:episodic:memory:<id>. Two kinds of
// sorted set index it, all scored by created_at:
//
//	<ns>:episodic:timeline     every memory id
//	<ns>:episodic:tag:<tag>    ids of memories carrying <tag>
//
// Promotion writes the record and every index entry in one MULTI/EXEC
// transaction, so a search sees a memory either completely or not at all.
//
// # Identity
//
// A memory id is a name-based UUID derived from the namespace and the source
// interaction id. Retrying a promotion rewrites the same record instead of
// creating a duplicate.
//
// # Search
//
// Search embeds the query, narrows candidates by tag and time range using the
// sorted sets, scores candidates by cosine similarity, drops those below the
// minimum and orders the rest by similarity, then newer first. An optional
// Index decides which records are worth loading; the final scores are always
// the exact cosine over the stored embeddings.
package episodic
