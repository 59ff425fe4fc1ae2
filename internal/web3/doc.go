// Package web3 houses blockchain connectivity used by the orchestrator's
// chain tools: a uniform client interface over EVM networks, transfer
// previews that can be shown to a human before anything is signed, signer
// abstractions and multi-chain configuration helpers.
package web3
