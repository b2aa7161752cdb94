// Package settlement pays agents through the x402 order flow: create an
// order, transfer the ERC-20 amount on chain, then poll until the order is
// confirmed. In simulated mode the same result shape is synthesised without
// touching the network.
package settlement
