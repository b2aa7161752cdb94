// Package mcp exposes the marketplace as MCP tools over JSON-RPC 2.0:
// discover_agents, get_agent and hire_agent. Business failures such as an
// unknown agent or an exceeded budget come back as ordinary tool results.
// Unexpected failures set isError.
package mcp
