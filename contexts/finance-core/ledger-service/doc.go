// Package ledgerservice implements the balance ledger for the Boostpanel monolith.
//
// The module owns ledger accounts and audit entries and exposes the atomic
// reserve/refund operations the order fulfillment pipeline depends on.
package ledgerservice
