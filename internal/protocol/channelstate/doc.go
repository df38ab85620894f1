// Package channelstate encodes channels and channel states exactly as the
// custody and adjudicator contracts hash them.
//
// A channel id is keccak256(abi.encode(participants, adjudicator, challenge,
// nonce, chainId)). A state is signed as keccak256 of
// abi.encode(channelId, intent, version, data, allocations). Both parties sign
// the same packed bytes, so a state signed by the counterparty can be
// countersigned and submitted on-chain unchanged.
package channelstate
