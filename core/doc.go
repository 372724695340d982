// Package core provides the foundational domain types and interfaces used by
// agentstream. It defines the core abstractions for:
//
//   - Messages and their ordered Parts (text, reasoning, tool calls/results, control markers)
//   - Conversations (append-only message logs owned by one user)
//   - Events (typed stream records emitted by the step orchestrator)
//   - ToolContext (scoped surface handed to tool implementations)
//   - Pluggable stores for message persistence and long-term memory
//   - The error taxonomy shared across components
//
// The package keeps implementation concerns (model providers, SQL backends,
// the step loop) out of scope, exposing small interfaces so backends can be
// swapped without touching the orchestration code.
package core
