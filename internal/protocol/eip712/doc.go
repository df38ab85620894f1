// Package eip712 builds the policy document a wallet signs to delegate
// bounded authority to a session key.
//
// The document is EIP-712 typed data with domain {name: application} and
// primary type Policy:
//
//	Policy(string challenge,string scope,address wallet,address session_key,uint64 expires_at,Allowance[] allowances)
//	Allowance(string asset,string amount)
//
// The wallet receives the document as JSON, the same payload a browser wallet
// takes for eth_signTypedData_v4.
package eip712
