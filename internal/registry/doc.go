// Package registry resolves agent identities to their descriptive metadata.
// The authoritative source is an on-chain identity registry; when it cannot
// be read, or lists no hireable agent, a static fallback set is served.
package registry
