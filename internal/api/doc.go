// Package api serves a payer session over HTTP: JSON endpoints for the
// snapshot and the user intents, a Server-Sent-Events stream of snapshots,
// and the Prometheus metrics of the process.
package api
