// Package balance tracks the payer's ledger and wallet balances.
//
// The two views are independent read models and are never merged:
//   - the ledger balance, as reported by the counterparty, decides whether a
//     payment can be made now;
//   - the wallet balance, read on-chain, only decides whether a deposit is
//     needed and whether it can succeed.
//
// Refreshes are idempotent and safe to call concurrently. Each call fetches
// under its own context and stamps its result when issued, so the call made
// last wins and a stale fetch never overwrites a newer push. SufficientFor and Shortfall are pure
// functions of the latest known ledger; they never trigger a refresh.
package balance
