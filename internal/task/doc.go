// Package task queues research runs for asynchronous execution. A Service
// persists submissions and publishes their ids; a Processor consumes ids
// from a Queue, claims the task in its Store and runs the pipeline.
package task
