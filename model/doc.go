// Package model defines the provider-agnostic abstractions for interacting
// with language models inside agentstream.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Speak in core.Message / core.Part so the orchestrator never sees vendor types
//   - Stream text and reasoning as deltas, deliver tool calls with the final response
//   - Facilitate deterministic mocking for tests (MockModel)
//
// Providers (Anthropic, OpenAI) implement the Model interface in sub-packages.
package model
