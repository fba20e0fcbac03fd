// Package executor runs validated operations against a resolver-bearing
// schema.
//
// Execution is a two-pass walk per selection set: a resolve pass invokes the
// resolver of every collected sibling field without awaiting anything, then a
// completion pass completes values (lists, leafs, objects, abstract types,
// Non-Null propagation) and settles deferred results. The two-pass shape is a
// correctness requirement for batched object resolution: every sibling field
// registers its selection under the shared parent path node before the first
// await fires the batch, so the batch runs exactly once per object instance
// with the complete field-selection map.
//
// Instrument applies the one-time field wrapper that threads per-field
// begin/end instrumentation and object batching through every object field
// resolver while keeping the result shape the engine sees unchanged.
// Deferred values abandoned by Non-Null propagation are settled in the
// background, so a hook that started always receives its end call.
package executor
