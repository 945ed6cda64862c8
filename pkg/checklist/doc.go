// Package checklist provides type-safe Go definitions and Redis schema patterns
// for rubricwatch.
//
// # Overview
//
// A facilitator defines criteria for a session; discussion groups are judged
// against them as transcript chunks arrive. This package holds the shared state
// that every rubricwatch component (server, CLI, viewers) reads and writes.
//
// # Core Concepts
//
// Criteria are the ordered rubric items of a session. They are replaced as a
// whole, never edited, and replacing them deletes all progress.
//
// Progress entries record, per (session, group, criterion), a status on the
// monotonic lattice grey < red < green, the quote that justified it and an
// append-only history. Green entries are locked.
//
// Judgments are the validated tagged union (Grey, Red(quote), Green(quote))
// that crosses from the judge boundary into the merge law.
//
// Snapshots are ordered, denormalised projections of criteria plus progress for
// one group, broadcast to viewers. They are never a source of truth.
//
// # Redis Schema
//
// Criteria: rubricwatch:{instance}:session:{session}:criteria (hash, field per criterion ID)
// Progress: rubricwatch:{instance}:session:{session}:group:{group}:progress (hash, field per criterion ID)
// Groups:   rubricwatch:{instance}:session:{session}:groups (set)
// Meta:     rubricwatch:{instance}:session:{session}:meta (hash: scenario, released:{group})
//
// Pub/Sub channels:
//
// Session audience: rubricwatch:{instance}:{session}:checklist
// Group audience:   rubricwatch:{instance}:{session}-{group}:checklist
// Change events:    rubricwatch:{instance}:{session}:progress_events
//
// # Usage Example
//
//	client, err := checklist.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	criteria, err := client.GetCriteria(ctx, "chem-101")
//	progress, err := client.GetProgress(ctx, "chem-101", 3)
package checklist
