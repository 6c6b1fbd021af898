// Package tui is the interactive terminal front end: a chat input, the
// conversation, and tabs for research steps, citations and the run summary.
// Panels refresh live while a run is in progress.
package tui
