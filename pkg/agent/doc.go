// Package agent is the entry point for model access in ticketsmith.
//
// Callers ask an LLMClientFactory for a client by Role. The factory resolves the
// configured model, infers its provider, fetches credentials, and returns the provider
// client wrapped in the metrics and retry middleware. Provider implementations live
// under internal/llmimpl and are not importable outside this package tree.
//
// The llm subpackage holds the provider-neutral request and response types, llmerrors
// the error taxonomy the retry policy classifies on, and toolloop the bounded
// tool-calling loop used by the coding agent.
package agent
