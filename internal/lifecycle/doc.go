// Package lifecycle models each template component as a small state machine.
//
// Transition is a pure function of (Component, Event) that returns the next
// Component and a list of effects. Effects are plain data; the engine
// interprets them against the dependency tracker and the run queue.
//
// States:
//
//	inactive                          first bootstrap pass still running
//	idle.inactive                     bootstrap finished, no extraction seen yet
//	idle.queryExtractionSuccess       last extraction produced a query
//	idle.queryExtractionGraphQLError  last extraction failed GraphQL validation
//	idle.queryExtractionBabelError    the template source could not be parsed
//
// A component in an error state keeps Errors at 1 until an explicit
// ExtractionSucceeded event; no other event clears it.
package lifecycle
