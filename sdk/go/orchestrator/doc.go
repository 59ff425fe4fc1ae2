// Package orchestrator is a Go client for the orchestrator HTTP API. It covers
// synchronous and queued runs, checkpoint resumption, thread inspection and
// job queries.
package orchestrator
