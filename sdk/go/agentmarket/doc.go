// Package agentmarket is a Go client for the AgentMarket orchestration API.
// It covers synchronous orchestration, the agent directory, asynchronous
// jobs and the hire_agent MCP tool.
package agentmarket
