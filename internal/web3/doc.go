// Package web3 houses blockchain connectivity for the marketplace: YAML
// chain definitions, the chain client interface and the narrower reader and
// transferer views that the registry and settlement layers depend on.
package web3
