// Package daemonrun wires configuration, logging, the ledger, the stages and
// the daemon into a runnable process for the CLI.
package daemonrun
