// Package memory provides long-term conversational memory: MemoryStore
// implementations and the ContextProvider that selects a token-budgeted
// window of the history and recalls relevant older messages for a turn.
//
// The store contract lives in core so persistence and the engine can depend
// on core.MemoryStore without importing a concrete backend. Select an
// implementation (InMemoryStore for tests, SQLiteStore for a single node) at
// wiring time.
package memory
