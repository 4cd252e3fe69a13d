// Package invite implements the registration invite code lifecycle.
//
// An invite code is a short-lived, single-use string issued to an external
// chat identity (a platform-native numeric ID). Presenting a valid code at
// registration time is the only way that identity becomes linked to an
// internal account.
//
// # Code format
//
// Codes are 12 characters drawn from a 32-symbol alphabet that excludes
// visually ambiguous characters (no 0/O, no 1/I), grouped for readability:
//
//	XXXX-XXXX-XXXX
//
// Input matching is case-insensitive; hyphens and whitespace are tolerated.
//
// # Lifecycle
//
// A code is Active until it is consumed, revoked, or its expiry passes.
// Consumed, Expired, and Revoked are terminal; revocation is implemented by
// forcing immediate expiry. Consumption marks the code used and links the
// requesting identity to the new account in a single atomic storage
// operation. Expired codes are deleted by a periodic cleanup sweep once past
// a retention window.
//
// The Registry orchestrates the lifecycle against a Store implementation;
// see pkg/storage/postgres and pkg/storage/memory for backends.
package invite
