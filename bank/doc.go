// Package bank provides the persistent experience memory for web agents.
//
// The bank stores memory items — short, generalized lessons distilled from
// prior task trajectories — and retrieves them by relevance to a new task.
// Items live across two co-located JSON files: a human-readable content file
// holding every item minus its embedding, and a compact embedding file
// mapping item id to dense vector.
//
// # Core Concepts
//
// Each item carries a title/description/content lesson plus provenance: the
// source task, a coarse domain tag, an outcome score (1.0 success, 0.0
// failure) and a creation timestamp. Items are append-only; the only in-place
// mutation is lazy embedding backfill.
//
// # Retrieval
//
// Retrieve supports two ranking strategies: dense-embedding cosine similarity
// and BM25 lexical scoring over stemmed tokens. Both return the same bounded
// projection of {title, description, content}. A domain filter narrows
// candidates, but deliberately falls back to the full set when it would
// otherwise empty the result.
//
// # Concurrency
//
// The bank is written by many uncoordinated OS processes, one per running
// agent task. A sidecar advisory lock file guards both resource files:
// reads hold it shared, and every read-modify-write cycle holds it exclusive
// end to end, so concurrent appends never lose items. Retrieval re-reads the
// files on every call rather than trusting an in-memory copy.
//
// # Degradation
//
// Nothing here is fatal to the caller: malformed files load as an empty
// store, a failed embedding call stores the item without a vector, and a
// query that cannot be embedded returns no results. A memory outage deprives
// the agent of recalled experience; it never blocks it from acting.
package bank
