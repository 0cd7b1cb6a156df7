// Package llm provides the conversational oracle: a provider-neutral chat
// interface with tool calling, implemented for OpenAI (and Azure OpenAI),
// Anthropic and Gemini, plus rate limiting, retries and a scripted client
// for tests.
package llm
