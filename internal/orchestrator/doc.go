// Package orchestrator selects agents for a task, pays each one through the
// settlement engine and invokes it. Per-agent pipelines run concurrently and
// their results are reported in hire order; one agent's failure never aborts
// the run.
package orchestrator
