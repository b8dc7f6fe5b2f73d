// Package flow provides a lightweight workflow orchestration engine: a graph
// of named nodes connected by labeled transitions, executed by a Flow driver
// that walks the graph, applies per-node lifecycle phases and retry policy,
// and routes on each node's returned outcome action.
//
// # Node variants
//
// Node is a closed set of variants, all built inside this package:
//
//	Task:               prepare -> execute (with bounded retry) -> post
//	BatchTask:          the retrying execute applied to each item of a collection, in order
//	ParallelBatchTask:  the same contract with concurrent fan-out and input-order fan-in
//	Flow:               an orchestrator that is itself a Node, so flows compose
//	BatchFlow:          a full sub-flow run once per item, sequentially
//	ParallelBatchFlow:  the same with concurrent sub-flow runs
//
// Each variant is configured with lifecycle functions rather than subclassed.
// The execute function is mandatory; running a Task without one is a
// configuration error, reported immediately and never retried.
//
// # Routing
//
// A node's post phase returns an Action. The owning Flow resolves the next
// node through the current node's successor table; a missing label with a
// non-empty table ends the flow with a warning, an empty table ends it
// silently. Routing decisions are surfaced as Route values so callers can
// assert on them without capturing log output.
//
// # Shared state
//
// State is the single mutable container threaded through a run. Sequential
// execution guarantees that writes from one node are visible to all later
// nodes. Batch flows hand each branch an isolated shallow clone plus the
// current item; nested mutable values reachable through that clone remain
// aliased between branches and must not be mutated concurrently.
package flow
