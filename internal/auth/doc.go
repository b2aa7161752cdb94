// Package auth implements the optional shared-token check in front of the
// agent-facing endpoints. Callers present the token in X-Agent-Token (or as
// a Bearer token). Every request is written to the audit log.
package auth
