// Package oasis holds the shared domain types and storage/provider contracts
// for chatrt, a local-first agentic chat runtime: threads and messages,
// document chunks and their retrieval filters, LLM provider and embedding
// provider interfaces, and the Store interface persistence backends
// implement.
//
// # Core Interfaces
//
//   - [Provider] — LLM backend (chat, tool calling, streaming)
//   - [EmbeddingProvider] — text-to-vector embedding
//   - [Store] — persistence with vector search over messages, chunks, and skills
//   - [KeywordSearcher] / [GraphStore] — optional Store capabilities a
//     backend may additionally implement (full-text search, chunk graphs)
//
// # Implementations
//
// Providers: provider/gemini (Google Gemini), provider/openaicompat
// (OpenAI-compatible APIs, including local Ollama).
// Storage: store/sqlite (local), store/postgres, store/libsql (Turso/remote).
//
// The runtime itself — capability resolution, tool dispatch, the agentic
// turn loop, and the actor mesh wiring them together — lives in the
// capability, dispatch, agenticloop, and actormesh packages. See cmd/chatrt
// for the reference entrypoint.
package oasis
