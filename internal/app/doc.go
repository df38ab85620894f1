// Package app wires application dependencies for the CLI.
//
// It loads Config from a YAML file and NITROPAY_* environment variables, and
// builds the wallet store, chain client, transport, session controller and
// HTTP server from it, exposing them via the Wire struct for commands to use.
package app
