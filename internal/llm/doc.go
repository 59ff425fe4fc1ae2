// Package llm defines the reasoning adapter contract used by the orchestration
// engine. A client receives a prompt plus the actions it may choose from and
// answers with zero or more named tool calls, or free text, regardless of the
// provider behind it.
package llm
