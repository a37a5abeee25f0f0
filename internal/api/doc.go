// Package api hosts the dashboard HTTP server. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for lock, queue, and last-run state.
//   - POST /run to start a run now or queue it behind the current one.
//   - GET /jobs/{job_id} and /queue for progress reporting.
//   - POST /terminate to kill the current run and clear the queue.
package api
