// Package accounts holds the internal account model and the account linker.
//
// The linker maintains the bijective association between an external chat
// identity and one internal account: an external ID identifies at most one
// account, and an account carries at most one external ID. Linking happens
// exactly once per identity, at invite consumption time, but the linker is
// also exposed directly for administrative tooling.
//
// Every mutation that can change the outcome of an authorization check
// (link, unlink, role assignment) evicts the cached role set for the
// affected external identity.
package accounts
