// Package invoker calls a paid agent's task endpoint. Local agents receive
// the legacy {text} body, remote agents the generic task envelope; both
// carry the settlement transaction hash in the X-Payment header.
package invoker
