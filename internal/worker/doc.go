// Package worker connects broker deliveries to the processing pipeline.
//
// A Processor handles one delivery end to end: it decodes the job, gives it
// an isolated temp directory, runs the workflow, and settles the delivery
// directly on success or through the failure governor otherwise. A Pool runs
// several consumers, each with its own broker session.
package worker
