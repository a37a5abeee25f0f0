// The main package for the scholarhunt executable.
//
// Architecture overview:
//   - Pipeline: internal/pipeline drives one discovery pass: portal scraping, keyword and
//     position-type classification, link validation, optional relevance verification, history
//     reconciliation, and digest delivery.
//   - Coordination: internal/coordinator serializes runs through a persisted file lock with a
//     staleness TTL, queues requests that arrive mid-run, and records per-job status files.
//   - HTTP API: internal/api exposes the dashboard endpoints for triggering runs, inspecting the
//     queue, tailing job logs, and terminating a stuck run.
//   - Plumbing: Viper populates config from file and SCHOLARHUNT_* env, zap provides structured
//     logging, and Prometheus metrics are exported on /metrics.
package main

import (
	"github.com/scoutlab/scholarhunt/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
