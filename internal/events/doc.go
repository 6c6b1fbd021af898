// Package events carries research progress from pipeline stages and tools to
// whatever is rendering it.
//
// Three event kinds exist: steps (an agent's thought, action, input and
// observation), citations (a consulted source) and messages (chat lines).
// A Bus delivers each notification synchronously to the handlers of that
// kind, in the order they subscribed. The bus is created by the caller and
// passed explicitly; there is no process-wide instance.
//
// RedisMirror optionally forwards every event to a Redis channel so that
// out-of-process dashboards can follow a run.
package events
