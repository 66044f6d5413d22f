// Package session keeps per-conversation state for the bot pipeline: wallet
// binding, the pending transaction intent awaiting confirmation, and a
// sliding activity window after which the session expires. Stores exist for
// in-memory use and for Redis so multiple daemon replicas can share state.
package session
