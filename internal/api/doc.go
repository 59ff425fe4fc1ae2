// Package api exposes the orchestrator over HTTP: starting runs on a thread,
// answering pending interrupts, reading thread state and history, and
// inspecting asynchronous jobs.
package api
