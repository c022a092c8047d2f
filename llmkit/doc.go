// Package llmkit is a provider-agnostic chat-completion client.
//
// It defines the message, request, and response types exchanged with a
// chat model, a ChatModel interface that provider adapters implement, a
// middleware-capable Client for routing requests, a typed error taxonomy
// with retry classification, and a streaming event model with an
// accumulator that merges deltas into a final Response.
//
// The package ships one concrete adapter, GollmAdapter, which wraps the
// gollm library for OpenAI- and Anthropic-compatible backends. Hosts with
// other backends implement ChatModel directly.
//
// Streaming never drives control flow: callers observe StreamEvent deltas
// as they arrive, but decisions are made only on the merged Response
// produced by Accumulator after the stream finishes.
package llmkit
