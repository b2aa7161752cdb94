// Package agenthost serves the built-in pay-per-call agents (Summarizer and
// Translator). A request without an X-Payment header gets HTTP 402 with the
// price and the payee address. A request with a header is verified on-chain
// and then answered by the configured language model.
package agenthost
