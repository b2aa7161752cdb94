// Package api exposes the marketplace over HTTP: synchronous orchestration,
// agent discovery, async jobs, the MCP tool endpoint, the built-in local
// agents, health and metrics.
package api
