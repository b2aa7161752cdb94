// Package llm is the boundary the built-in demo agents use to reach a large
// language model. Providers live in subpackages; only single-turn
// system-plus-user completions are modelled.
package llm
