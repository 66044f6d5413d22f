// Package ledger houses blockchain connectivity abstractions: the execution
// client interface used to sign and submit batched transactions, account
// construction from user-supplied credentials, token metadata resolution,
// and balance formatting helpers. Concrete network adapters live in
// subpackages.
package ledger
