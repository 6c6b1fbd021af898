// Package pipeline runs the three research stages in order (research,
// analysis, fact check), feeding each stage's output into the next and
// announcing every result on the event bus.
//
// A run moves through Idle, Researching, Analyzing, FactChecking and Done.
// Any stage failure moves it to Errored, which ends the run.
package pipeline
