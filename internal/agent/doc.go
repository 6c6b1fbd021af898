// Package agent defines the three research roles, the tasks handed to them
// and the executor that runs one role against one task: a bounded
// reason-act loop over a language model and the available tools.
package agent
