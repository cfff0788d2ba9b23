// Package enrich drives the per-character enrichment state machine.
//
// One call to Engine.EnrichOne takes a character through a single attempt:
// the curator protection gate, the idempotence short-circuit for records that
// already succeeded, a cache consult keyed on category and character identity,
// the model invocation under the centralized retry policy, and finally a
// persist-before-success write through the catalog's optimistic revision
// check. A record never reports success unless the write that carries its
// fields completed.
//
// Categories select both the prompt sent to the provider and the strict
// response schema the payload must satisfy. Responses that decode but carry
// no usable content are treated as malformed rather than retried.
package enrich
