// Package workflow runs one audio job through the enrichment pipeline.
//
// The Orchestrator executes a fixed, ordered list of steps over a shared job
// state: fetch the content record and media details, download the original,
// hash it and short-circuit duplicates, run technical and creative analysis,
// transcode a lightweight copy, upload it, and write the merged metadata back.
// The first failing step ends the run; its error is wrapped with the step
// name and returned to the caller, which owns retry and dead-letter
// decisions. Temporary files are registered with the job's tempfiles.Tracker
// and are never removed here.
package workflow
