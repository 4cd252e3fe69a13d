// Package api exposes the gatelink HTTP surface: invite issuance and
// consumption for the registration flow, plus administrative link, role,
// and authorization endpoints.
//
// Validation outcomes are reported as a closed set of machine-readable
// reason codes (valid, not_found, already_consumed, expired) so the
// presentation layer can show a distinct message for each; they are never
// collapsed into a bare boolean.
//
// Administrative routes are guarded by an authz role precondition keyed on
// the caller's external identity, carried in the X-External-ID header set
// by the upstream gateway.
package api
